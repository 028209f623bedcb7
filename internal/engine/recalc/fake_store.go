package recalc

import (
	"context"
	"sync"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/model"
)

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	mu     sync.Mutex
	nextID int64
	jobs   map[int64]*model.Job
}

// NewFakeStore builds an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{jobs: make(map[int64]*model.Job)}
}

func (f *FakeStore) Enqueue(ctx context.Context, job model.Job) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	job.ID = f.nextID
	job.Status = model.JobPending
	f.jobs[job.ID] = &job
	return job.ID, nil
}

func (f *FakeStore) ClaimNext(ctx context.Context, leaseDuration time.Duration) (model.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *model.Job
	for _, j := range f.jobs {
		claimable := j.Status == model.JobPending ||
			(j.Status == model.JobRunning && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(time.Now()))
		if !claimable {
			continue
		}
		if best == nil || j.Priority < best.Priority || (j.Priority == best.Priority && j.ID < best.ID) {
			best = j
		}
	}
	if best == nil {
		return model.Job{}, false, nil
	}

	best.Status = model.JobRunning
	expires := time.Now().Add(leaseDuration)
	best.LeaseExpiresAt = &expires
	return *best, true, nil
}

func (f *FakeStore) Complete(ctx context.Context, job model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[job.ID]; ok {
		j.Status = model.JobDone
	}
	return nil
}

func (f *FakeStore) Fail(ctx context.Context, job model.Job, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[job.ID]; ok {
		j.Status = model.JobFailed
		j.Reason = reason
	}
	return nil
}

// Snapshot returns a copy of every job currently tracked, for assertions.
func (f *FakeStore) Snapshot() []model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, *j)
	}
	return out
}

// FakeExecutor records every job it executes and optionally fails.
type FakeExecutor struct {
	mu       sync.Mutex
	Executed []model.Job
	FailWith error
}

func (e *FakeExecutor) Execute(ctx context.Context, job model.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Executed = append(e.Executed, job)
	if e.FailWith != nil {
		err := e.FailWith
		e.FailWith = nil
		return err
	}
	return nil
}
