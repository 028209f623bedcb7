package engine

import (
	"sync"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/model"
)

// DeviceState is the per-device memory calculators read and update
// across invocations: the last record seen, and whatever open-violation
// bookkeeping a stateful calculator (e.g. sustained speeding) needs to
// avoid re-raising the same breach on every record.
type DeviceState struct {
	mu sync.Mutex

	LastRecord  model.Telemetry
	HasLast     bool
	OpenSince   map[string]time.Time // calculator name -> when its current breach window opened
	LastRaisedAt map[string]time.Time
}

func newDeviceState() *DeviceState {
	return &DeviceState{
		OpenSince:    make(map[string]time.Time),
		LastRaisedAt: make(map[string]time.Time),
	}
}

// Lock/Unlock let a calculator guard its read-modify-write of the shared
// fields above; the StateStore never hands out the same *DeviceState to
// two goroutines concurrently in practice (one worker per queue), but
// calculators are written defensively since that's an implementation
// detail of the caller, not a contract calculators should rely on.
func (s *DeviceState) Lock()   { s.mu.Lock() }
func (s *DeviceState) Unlock() { s.mu.Unlock() }

// StateStore holds one DeviceState per identity, created on first touch
// and kept for the process lifetime. Bounded implicitly by fleet size,
// which is assumed small enough to keep in memory (tens of thousands of
// entries at most).
type StateStore struct {
	mu     sync.Mutex
	states map[string]*DeviceState
}

// NewStateStore returns an empty StateStore.
func NewStateStore() *StateStore {
	return &StateStore{states: make(map[string]*DeviceState)}
}

// Get returns identity's DeviceState, creating it on first access.
func (s *StateStore) Get(identity string) *DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[identity]
	if !ok {
		st = newDeviceState()
		s.states[identity] = st
	}
	return st
}
