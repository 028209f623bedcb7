package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/broker"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

type fakeConfigSource struct {
	cfg DeviceConfig
	err error
}

func (f *fakeConfigSource) DeviceConfig(ctx context.Context, identity string) (DeviceConfig, error) {
	return f.cfg, f.err
}

type fakeSink struct {
	mu      sync.Mutex
	batches []PendingWrites
	failErr error
}

func (f *fakeSink) Flush(ctx context.Context, batch PendingWrites) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeSink) snapshot() []PendingWrites {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PendingWrites, len(f.batches))
	copy(out, f.batches)
	return out
}

type fakeAlarmPublisher struct {
	mu     sync.Mutex
	alarms []model.Alarm
}

func (f *fakeAlarmPublisher) PublishAlarm(ctx context.Context, alarm model.Alarm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alarms = append(f.alarms, alarm)
	return nil
}

func (f *fakeAlarmPublisher) snapshot() []model.Alarm {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Alarm, len(f.alarms))
	copy(out, f.alarms)
	return out
}

type criticalCalculator struct{}

func (criticalCalculator) Name() string { return "critical_test" }
func (criticalCalculator) Version() int { return 1 }
func (criticalCalculator) Evaluate(state *DeviceState, rec model.Telemetry, cfg DeviceConfig) Result {
	return Result{Violations: []ViolationEvent{{
		Identity: rec.Identity, Calculator: "critical_test", Kind: "test_kind",
		Severity: model.SeverityCritical, Recorded: rec,
	}}}
}

func deliveryWithTelemetry(t *testing.T, rec model.Telemetry) (broker.Delivery, chan bool, chan bool) {
	t.Helper()
	body, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal telemetry: %v", err)
	}
	acked := make(chan bool, 1)
	nacked := make(chan bool, 1)
	return broker.Delivery{
		Message: broker.Message{Body: body},
		Ack:     func() error { acked <- true; return nil },
		Nack:    func(requeue bool) error { nacked <- requeue; return nil },
	}, acked, nacked
}

func testTelemetry() model.Telemetry {
	return model.Telemetry{
		Identity:       "356938035643809",
		Timestamp:      time.Now(),
		TimestampValid: true,
		Position:       model.Position{Latitude: 45.0, Longitude: 13.5, SpeedKmh: 40},
	}
}

func TestPipelineFlushesBatchAndAcksOnSuccess(t *testing.T) {
	sink := &fakeSink{}
	pipeline := NewPipeline(StaticCatalog(NewRegistry()), NewEnrichmentCache(&fakeConfigSource{}, time.Minute), sink, &fakeAlarmPublisher{}, false, 1, time.Hour, nil, zerolog.Nop())

	in := make(chan broker.Delivery, 1)
	d, acked, _ := deliveryWithTelemetry(t, testTelemetry())
	in <- d
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipeline.Consume(ctx, in)

	select {
	case <-acked:
	default:
		t.Fatal("expected delivery to be acked")
	}
}

func TestPipelineShadowModeSuppressesWritesButStillAcks(t *testing.T) {
	sink := &fakeSink{}
	pipeline := NewPipeline(StaticCatalog(NewRegistry(criticalCalculator{})), NewEnrichmentCache(&fakeConfigSource{}, time.Minute), sink, &fakeAlarmPublisher{}, true, 1, time.Hour, nil, zerolog.Nop())

	in := make(chan broker.Delivery, 1)
	d, acked, _ := deliveryWithTelemetry(t, testTelemetry())
	in <- d
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipeline.Consume(ctx, in)

	select {
	case <-acked:
	default:
		t.Fatal("expected delivery to be acked even in shadow mode")
	}
	if len(sink.snapshot()) != 0 {
		t.Fatalf("shadow mode should not flush to the sink, got %d batches", len(sink.snapshot()))
	}
}

func TestPipelineExpeditesCriticalAlarmOutsideShadowMode(t *testing.T) {
	alarms := &fakeAlarmPublisher{}
	pipeline := NewPipeline(StaticCatalog(NewRegistry(criticalCalculator{})), NewEnrichmentCache(&fakeConfigSource{}, time.Minute), &fakeSink{}, alarms, false, 1, time.Hour, nil, zerolog.Nop())

	in := make(chan broker.Delivery, 1)
	d, _, _ := deliveryWithTelemetry(t, testTelemetry())
	in <- d
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipeline.Consume(ctx, in)

	published := alarms.snapshot()
	if len(published) != 1 {
		t.Fatalf("expected one expedited critical alarm, got %d", len(published))
	}
	if published[0].Kind != "test_kind" {
		t.Fatalf("alarm kind = %q, want test_kind", published[0].Kind)
	}
}

func TestPipelineNacksForRedeliveryOnEnrichmentFailure(t *testing.T) {
	cache := NewEnrichmentCache(&fakeConfigSource{err: assertError{}}, time.Minute)
	pipeline := NewPipeline(StaticCatalog(NewRegistry()), cache, &fakeSink{}, &fakeAlarmPublisher{}, false, 1, time.Hour, nil, zerolog.Nop())

	in := make(chan broker.Delivery, 1)
	d, _, nacked := deliveryWithTelemetry(t, testTelemetry())
	in <- d
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipeline.Consume(ctx, in)

	select {
	case requeue := <-nacked:
		if !requeue {
			t.Fatal("expected nack with requeue=true on enrichment failure")
		}
	default:
		t.Fatal("expected delivery to be nacked")
	}
}

func TestPipelineNacksBatchOnSinkFailure(t *testing.T) {
	sink := &fakeSink{failErr: assertError{}}
	pipeline := NewPipeline(StaticCatalog(NewRegistry(criticalCalculator{})), NewEnrichmentCache(&fakeConfigSource{}, time.Minute), sink, &fakeAlarmPublisher{}, false, 1, time.Hour, nil, zerolog.Nop())

	in := make(chan broker.Delivery, 1)
	d, _, nacked := deliveryWithTelemetry(t, testTelemetry())
	in <- d
	close(in)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipeline.Consume(ctx, in)

	select {
	case <-nacked:
	default:
		t.Fatal("expected delivery to be nacked when the sink flush fails")
	}
}

type assertError struct{}

func (assertError) Error() string { return "forced failure" }
