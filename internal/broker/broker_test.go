package broker

import (
	"context"
	"testing"
	"time"
)

func TestFakePublishAndDeliver(t *testing.T) {
	f := NewFake()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := f.Publish(ctx, Message{ID: "1", RoutingKey: "telemetry", Body: []byte("a")}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deliveries, err := f.Deliveries(ctx, "telemetry", 10)
	if err != nil {
		t.Fatalf("deliveries: %v", err)
	}

	select {
	case d := <-deliveries:
		if string(d.Body) != "a" {
			t.Fatalf("body = %q, want %q", d.Body, "a")
		}
		if err := d.Ack(); err != nil {
			t.Fatalf("ack: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestFakeFailingReturnsBackpressure(t *testing.T) {
	f := NewFake()
	f.Failing = true
	err := f.Publish(context.Background(), Message{RoutingKey: "telemetry"})
	if err == nil {
		t.Fatal("expected back-pressure error")
	}
	var bp *ErrBackpressure
	if !asBackpressure(err, &bp) {
		t.Fatalf("expected *ErrBackpressure, got %T", err)
	}
}

func asBackpressure(err error, target **ErrBackpressure) bool {
	bp, ok := err.(*ErrBackpressure)
	if !ok {
		return false
	}
	*target = bp
	return true
}

func TestDeadLetterCarriesHeaders(t *testing.T) {
	f := NewFake()
	err := DeadLetter(context.Background(), f, ".dlq", "telemetry", "schema_violation", "lat", []byte("bad"))
	if err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	if len(f.Published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(f.Published))
	}
	msg := f.Published[0]
	if msg.Headers["x-reason"] != "schema_violation" {
		t.Fatalf("x-reason = %q", msg.Headers["x-reason"])
	}
	if msg.Headers["x-field"] != "lat" {
		t.Fatalf("x-field = %q", msg.Headers["x-field"])
	}
	if msg.Headers["x-original-queue"] != "telemetry" {
		t.Fatalf("x-original-queue = %q", msg.Headers["x-original-queue"])
	}
	if msg.RoutingKey != "telemetry.dlq" {
		t.Fatalf("routing key = %q, want telemetry.dlq", msg.RoutingKey)
	}
}
