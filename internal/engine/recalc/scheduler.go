package recalc

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/model"
)

// Scheduler enqueues a refresh_all_views job on a fixed interval (spec
// §4.7: "a scheduled timer enqueues refresh_all_views at a configured
// interval").
type Scheduler struct {
	store        Store
	interval     time.Duration
	initialDelay time.Duration
	logger       zerolog.Logger
}

// NewScheduler builds a Scheduler that waits initialDelay before its
// first enqueue (so a fleet of freshly deployed Engine replicas doesn't
// all fire the same refresh in the same instant) and then fires every
// interval.
func NewScheduler(store Store, interval, initialDelay time.Duration, logger zerolog.Logger) *Scheduler {
	return &Scheduler{store: store, interval: interval, initialDelay: initialDelay, logger: logger}
}

// Run blocks until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.initialDelay):
	}

	s.enqueueRefresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueueRefresh(ctx)
		}
	}
}

func (s *Scheduler) enqueueRefresh(ctx context.Context) {
	id, err := Enqueue(ctx, s.store, model.JobRefreshAllViews, model.TriggerManual, model.JobScope{}, "scheduled", 5)
	if err != nil {
		s.logger.Error().Err(err).Msg("recalc: scheduled refresh_all_views enqueue failed")
		return
	}
	s.logger.Info().Int64("job_id", id).Msg("recalc: enqueued scheduled refresh_all_views")
}
