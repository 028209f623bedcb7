// Package recalc implements the Engine's durable recalculation job
// queue (spec §4.7): a priority-ordered table workers claim with a lease,
// execute, and mark done or failed, reclaimable by another worker once a
// crashed claim's lease expires.
package recalc

import (
	"context"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/model"
)

// Store is the durable backing for the recalculation queue.
type Store interface {
	// Enqueue inserts a new pending job and returns its id.
	Enqueue(ctx context.Context, job model.Job) (int64, error)
	// ClaimNext claims the pending job with the smallest priority value
	// (oldest first among equals), or a running job whose lease has
	// expired, setting status to running and a new lease expiry.
	ClaimNext(ctx context.Context, leaseDuration time.Duration) (model.Job, bool, error)
	// Complete marks job done.
	Complete(ctx context.Context, job model.Job) error
	// Fail marks job failed with reason.
	Fail(ctx context.Context, job model.Job, reason string) error
}

// Executor runs one claimed job to completion. Implementations live
// outside this package since they need access to the telemetry store and
// the materialized-view refresh mechanism.
type Executor interface {
	Execute(ctx context.Context, job model.Job) error
}
