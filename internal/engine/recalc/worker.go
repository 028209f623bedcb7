package recalc

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// Worker drains the recalculation queue: poll, claim, execute, mark
// done/failed (spec §4.7 "Recalculation job queue").
type Worker struct {
	store    Store
	executor Executor
	interval time.Duration
	lease    time.Duration

	metrics *appmetrics.Metrics
	logger  zerolog.Logger
}

// NewWorker builds a Worker polling store every interval, leasing claimed
// jobs for lease before they become reclaimable by another worker.
func NewWorker(store Store, executor Executor, interval, lease time.Duration, metrics *appmetrics.Metrics, logger zerolog.Logger) *Worker {
	return &Worker{store: store, executor: executor, interval: interval, lease: lease, metrics: metrics, logger: logger}
}

// Run blocks until ctx is canceled, claiming and executing jobs at
// interval.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainOnce(ctx)
		}
	}
}

// drainOnce claims and executes jobs until the queue reports nothing
// claimable, so a backlog doesn't wait a full interval per job.
func (w *Worker) drainOnce(ctx context.Context) {
	for {
		job, ok, err := w.store.ClaimNext(ctx, w.lease)
		if err != nil {
			w.logger.Error().Err(err).Msg("recalc: claim failed")
			return
		}
		if !ok {
			return
		}

		if w.metrics != nil {
			w.metrics.JobsClaimed.WithLabelValues(string(job.Kind)).Inc()
		}
		w.logger.Info().Int64("job_id", job.ID).Str("kind", string(job.Kind)).Str("trigger", string(job.Trigger)).
			Msg("recalc: executing job")

		if err := w.executor.Execute(ctx, job); err != nil {
			w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("recalc: job execution failed")
			if ferr := w.store.Fail(ctx, job, err.Error()); ferr != nil {
				w.logger.Error().Err(ferr).Int64("job_id", job.ID).Msg("recalc: failed to mark job failed")
			}
			if w.metrics != nil {
				w.metrics.JobsFailed.WithLabelValues(string(job.Kind)).Inc()
			}
			continue
		}

		if err := w.store.Complete(ctx, job); err != nil {
			w.logger.Error().Err(err).Int64("job_id", job.ID).Msg("recalc: failed to mark job done")
			continue
		}
		if w.metrics != nil {
			w.metrics.JobsDone.WithLabelValues(string(job.Kind)).Inc()
		}
	}
}

// Enqueue is a convenience wrapper used by operator tooling (recalcctl),
// the Scheduler, and the Engine's ReloadHandler.
func Enqueue(ctx context.Context, store Store, kind model.JobKind, trigger model.JobTrigger, scope model.JobScope, reason string, priority int) (int64, error) {
	return store.Enqueue(ctx, model.Job{
		Kind: kind, Trigger: trigger, Status: model.JobPending,
		Priority: priority, Reason: reason, Scope: scope,
	})
}
