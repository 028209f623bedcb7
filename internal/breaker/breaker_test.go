package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("db", 3, 50*time.Millisecond, nil)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := b.Do(context.Background(), func(ctx context.Context) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("attempt %d: got %v, want boom", i, err)
		}
	}

	if b.Healthy() {
		t.Fatal("breaker should be open (unhealthy) after consecutive failures")
	}

	err := b.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected fail-fast ErrOpenState, got %v", err)
	}
}

func TestBreakerRecoversAfterCooldown(t *testing.T) {
	b := New("broker", 1, 20*time.Millisecond, nil)
	_ = b.Do(context.Background(), func(ctx context.Context) error { return errors.New("x") })
	if b.Healthy() {
		t.Fatal("breaker should be open after a single failure with threshold 1")
	}

	time.Sleep(30 * time.Millisecond)

	err := b.Do(context.Background(), func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("expected half-open probe to succeed, got %v", err)
	}
	if !b.Healthy() {
		t.Fatal("breaker should be healthy after a successful half-open probe")
	}
}
