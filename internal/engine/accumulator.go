package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/broker"
)

// pipelineItem pairs one record's calculator output with the delivery it
// came from, so a completed batch can be acked or nacked as a unit.
type pipelineItem struct {
	writes   PendingWrites
	delivery broker.Delivery
}

// accumulator is the Engine's batch-by-size-or-timeout accumulator
// (spec §4.7 step 4), the same shape as consumer.Accumulator but
// threading ctx through decode/flush since the Engine's per-record step
// makes suspending calls (enrichment lookup, expedited alarm publish).
type accumulator struct {
	batchSize    int
	batchTimeout time.Duration
}

// NewAccumulator builds an accumulator with the given batch bounds.
func NewAccumulator(batchSize int, batchTimeout time.Duration) *accumulator {
	return &accumulator{batchSize: batchSize, batchTimeout: batchTimeout}
}

func (a *accumulator) Run(ctx context.Context, in <-chan broker.Delivery, evaluate func(context.Context, broker.Delivery) (PendingWrites, bool), flush func(context.Context, []pipelineItem)) {
	batch := make([]pipelineItem, 0, a.batchSize)
	timer := time.NewTimer(a.batchTimeout)
	defer timer.Stop()

	resetTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(a.batchTimeout)
	}

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				// ctx is already canceled here; give the final flush its own
				// bounded window instead of a context that's already done,
				// so in-flight writes get a chance to land during shutdown.
				drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				flush(drainCtx, batch)
				cancel()
			}
			return

		case d, ok := <-in:
			if !ok {
				if len(batch) > 0 {
					flush(ctx, batch)
				}
				return
			}
			writes, accepted := evaluate(ctx, d)
			if !accepted {
				continue
			}
			if len(batch) == 0 {
				resetTimer()
			}
			batch = append(batch, pipelineItem{writes: writes, delivery: d})
			if len(batch) >= a.batchSize {
				flush(ctx, batch)
				batch = batch[:0]
			}

		case <-timer.C:
			if len(batch) > 0 {
				flush(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(a.batchTimeout)
		}
	}
}

