package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/broker"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

func testWorkerConfig(queue string) WorkerConfig {
	return WorkerConfig{Queue: queue, Prefetch: 10, BatchSize: 5, BatchTimeout: 30 * time.Millisecond, DLXSuffix: ".dlx"}
}

func publishTelemetry(t *testing.T, fake *broker.Fake, rec model.Telemetry) {
	t.Helper()
	body, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := fake.Publish(context.Background(), broker.Message{RoutingKey: "telemetry", Body: body}); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTelemetryWorkerWritesValidRecord(t *testing.T) {
	fake := broker.NewFake()
	store := NewFakeStore()
	dedup := NewDedup(store, 1000)
	writer := NewWriter(store, DefaultRetryPolicy, nil, zerolog.Nop())
	worker := NewTelemetryWorker(testWorkerConfig("telemetry"), fake, dedup, writer, fake, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	publishTelemetry(t, fake, validTelemetry())

	waitFor(t, time.Second, func() bool {
		return len(store.Written["telemetry"]) == 1
	})
}

func TestTelemetryWorkerDedupesRepeatedRecord(t *testing.T) {
	fake := broker.NewFake()
	store := NewFakeStore()
	dedup := NewDedup(store, 1000)
	writer := NewWriter(store, DefaultRetryPolicy, nil, zerolog.Nop())
	worker := NewTelemetryWorker(testWorkerConfig("telemetry"), fake, dedup, writer, fake, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	rec := validTelemetry()
	rec.RawFrameID = "fixed-frame"
	publishTelemetry(t, fake, rec)
	waitFor(t, time.Second, func() bool { return len(store.Written["telemetry"]) == 1 })

	publishTelemetry(t, fake, rec)
	time.Sleep(80 * time.Millisecond)

	if len(store.Written["telemetry"]) != 1 {
		t.Fatalf("expected the duplicate to add no new row, got %d rows", len(store.Written["telemetry"]))
	}
}

func TestTelemetryWorkerRoutesInvalidRecordToDeadLetter(t *testing.T) {
	fake := broker.NewFake()
	store := NewFakeStore()
	dedup := NewDedup(store, 1000)
	writer := NewWriter(store, DefaultRetryPolicy, nil, zerolog.Nop())
	worker := NewTelemetryWorker(testWorkerConfig("telemetry"), fake, dedup, writer, fake, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	rec := validTelemetry()
	rec.Identity = "bad-identity"
	publishTelemetry(t, fake, rec)

	waitFor(t, time.Second, func() bool {
		for _, msg := range fake.Published {
			if msg.RoutingKey == "telemetry.dlx" {
				return true
			}
		}
		return false
	})

	if len(store.Written["telemetry"]) != 0 {
		t.Fatalf("expected no row written for an invalid record, got %d", len(store.Written["telemetry"]))
	}
}

func TestTelemetryWorkerRoutesPersistentWriteFailureToDeadLetter(t *testing.T) {
	fake := broker.NewFake()
	store := NewFakeStore()
	store.FailNextWith = errPersistentForTest
	dedup := NewDedup(store, 1000)
	writer := NewWriter(store, RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, nil, zerolog.Nop())
	worker := NewTelemetryWorker(testWorkerConfig("telemetry"), fake, dedup, writer, fake, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	publishTelemetry(t, fake, validTelemetry())

	waitFor(t, time.Second, func() bool {
		for _, msg := range fake.Published {
			if msg.RoutingKey == "telemetry.dlx" && msg.Headers["x-reason"] == "db_write_failure" {
				return true
			}
		}
		return false
	})
}

var errPersistentForTest = &persistentTestError{}

type persistentTestError struct{}

func (e *persistentTestError) Error() string { return "persistent write failure" }
