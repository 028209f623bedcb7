// Package consumer implements the per-queue batch pipeline shared by the
// telemetry/alarms/events consumers (spec §4.6): accumulate a batch by
// size-or-timeout, dedup, validate, write, ack/nack — grounded on the
// worker-pool batching shape of this pipeline's teacher, generalized from
// a fixed job queue to a broker-fed accumulator.
package consumer

import (
	"time"

	"github.com/fleetpulse/telemetry-core/internal/broker"
)

// Item pairs a decoded record with the broker.Delivery it came from, so
// the batch can be acked or nacked as a unit once written.
type Item[T any] struct {
	Record   T
	Delivery broker.Delivery
}

// Accumulator collects deliveries into a batch, flushing when it reaches
// batchSize or batchTimeout elapses since the first item in the current
// batch — whichever comes first (spec §4.6).
type Accumulator[T any] struct {
	batchSize    int
	batchTimeout time.Duration
}

// NewAccumulator builds an Accumulator with the given batch bounds.
func NewAccumulator[T any](batchSize int, batchTimeout time.Duration) *Accumulator[T] {
	return &Accumulator[T]{batchSize: batchSize, batchTimeout: batchTimeout}
}

// Run reads decode(delivery) for every item on in, and calls flush with
// each completed batch. decode returning false leaves that delivery out
// of every batch; Run neither acks nor nacks it, so decode settles it
// (DLQ and nack) itself before returning.
// Run returns when in closes, flushing any partial batch first.
func (a *Accumulator[T]) Run(in <-chan broker.Delivery, decode func(broker.Delivery) (T, bool), flush func([]Item[T])) {
	batch := make([]Item[T], 0, a.batchSize)
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
		case delivery, ok := <-in:
			if !ok {
				if len(batch) > 0 {
					flush(batch)
				}
				return
			}
			rec, accepted := decode(delivery)
			if !accepted {
				continue
			}
			if len(batch) == 0 {
				resetTimer()
			}
			batch = append(batch, Item[T]{Record: rec, Delivery: delivery})
			if len(batch) >= a.batchSize {
				flush(batch)
				batch = batch[:0]
			}

		case <-timer.C:
			if len(batch) > 0 {
				flush(batch)
				batch = batch[:0]
			}
			timer.Reset(a.batchTimeout)
		}
	}
}
