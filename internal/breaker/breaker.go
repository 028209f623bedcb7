// Package breaker wraps each external dependency (database, broker) in a
// circuit breaker with states {closed, open, half_open} (spec §4.8).
// When open, callers fail fast instead of queueing work against a
// dependency that's already failing.
package breaker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
)

// gaugeState maps gobreaker's three states onto the spec's
// closed/half_open/open gauge values (0/1/2).
func gaugeState(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// Breaker wraps one dependency's gobreaker.CircuitBreaker and exposes its
// state as a gauge.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// New builds a Breaker named for dependency, trips after
// consecutiveFailures in a row, and stays open for cooldown before
// allowing a half-open probe. gauge, if non-nil, tracks state transitions.
func New(dependency string, consecutiveFailures uint32, cooldown time.Duration, gauge *prometheus.GaugeVec) *Breaker {
	settings := gobreaker.Settings{
		Name:        dependency,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if gauge != nil {
				gauge.WithLabelValues(name).Set(gaugeState(to))
			}
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do executes fn if the breaker is closed or half-open-and-probing, and
// records the outcome. Returns gobreaker.ErrOpenState immediately when
// the breaker is open — the caller should treat that as fail-fast, not
// retry.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// Healthy reports whether the breaker is currently allowing traffic —
// used directly as a health.Checker.
func (b *Breaker) Healthy() bool {
	return b.cb.State() != gobreaker.StateOpen
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
