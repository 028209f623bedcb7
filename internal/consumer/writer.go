package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
)

// TransientError marks a batch write failure the Writer should retry
// rather than hand straight back to the caller for DLQ routing (spec
// §4.6: connection dropped, deadlock, timeout). A Store implementation
// wraps exactly those failure modes in TransientError; anything else is
// treated as persistent.
type TransientError struct{ Cause error }

func (e *TransientError) Error() string {
	return "consumer: transient write failure: " + e.Cause.Error()
}
func (e *TransientError) Unwrap() error { return e.Cause }

// RetryPolicy bounds the exponential backoff applied to transient batch
// write failures before the Writer gives up and returns the error to the
// caller for DLQ routing.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is a handful of attempts capped well under the
// batch timeout's next cycle, so a wedged writer doesn't stall the
// accumulator indefinitely.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}

// Writer wraps a Store's batch write with the retry policy of spec §4.6:
// single multi-row insert per target table per batch, one transaction,
// exponential backoff on transient failure up to a cap, and a persistent
// failure returned unmodified so the caller can DLQ it.
type Writer struct {
	store   Store
	retry   RetryPolicy
	metrics *appmetrics.Metrics
	logger  zerolog.Logger
}

// NewWriter builds a Writer over store with the given retry policy.
func NewWriter(store Store, retry RetryPolicy, metrics *appmetrics.Metrics, logger zerolog.Logger) *Writer {
	return &Writer{store: store, retry: retry, metrics: metrics, logger: logger}
}

// WriteBatch writes rows to queue's target table, retrying transient
// failures with exponential backoff. A non-transient error, or
// exhausting the attempt budget, returns immediately.
func (w *Writer) WriteBatch(ctx context.Context, queue string, rows []Row) error {
	start := time.Now()
	delay := w.retry.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= w.retry.MaxAttempts; attempt++ {
		err := w.store.WriteBatch(ctx, queue, rows)
		if err == nil {
			if w.metrics != nil {
				w.metrics.BatchWriteLatency.WithLabelValues(queue).Observe(time.Since(start).Seconds())
				w.metrics.BatchSize.WithLabelValues(queue).Observe(float64(len(rows)))
			}
			return nil
		}
		lastErr = err

		var transient *TransientError
		if !errors.As(err, &transient) {
			return err
		}
		w.logger.Warn().Err(err).Str("queue", queue).Int("attempt", attempt).Int("batch_size", len(rows)).
			Msg("transient batch write failure, retrying")

		if attempt == w.retry.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > w.retry.MaxDelay {
			delay = w.retry.MaxDelay
		}
	}
	return lastErr
}
