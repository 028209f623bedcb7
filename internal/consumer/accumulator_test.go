package consumer

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/broker"
)

func deliveryWithBody(body string) broker.Delivery {
	return broker.Delivery{
		Message: broker.Message{Body: []byte(body)},
		Ack:     func() error { return nil },
		Nack:    func(bool) error { return nil },
	}
}

func TestAccumulatorFlushesOnBatchSize(t *testing.T) {
	acc := NewAccumulator[string](3, time.Hour)
	in := make(chan broker.Delivery)

	var mu sync.Mutex
	var flushes [][]string
	done := make(chan struct{})
	go func() {
		acc.Run(in, func(d broker.Delivery) (string, bool) { return string(d.Body), true }, func(batch []Item[string]) {
			mu.Lock()
			defer mu.Unlock()
			var vals []string
			for _, it := range batch {
				vals = append(vals, it.Record)
			}
			flushes = append(flushes, vals)
		})
		close(done)
	}()

	for i := 0; i < 3; i++ {
		in <- deliveryWithBody(strconv.Itoa(i))
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(flushes)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for size-triggered flush")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(in)
	<-done
}

func TestAccumulatorFlushesOnTimeout(t *testing.T) {
	acc := NewAccumulator[string](100, 20*time.Millisecond)
	in := make(chan broker.Delivery)

	var mu sync.Mutex
	var flushes [][]string
	done := make(chan struct{})
	go func() {
		acc.Run(in, func(d broker.Delivery) (string, bool) { return string(d.Body), true }, func(batch []Item[string]) {
			mu.Lock()
			defer mu.Unlock()
			var vals []string
			for _, it := range batch {
				vals = append(vals, it.Record)
			}
			flushes = append(flushes, vals)
		})
		close(done)
	}()

	in <- deliveryWithBody("only-one")

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(flushes)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for timeout-triggered flush")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(in)
	<-done
}

func TestAccumulatorDrainsPartialBatchOnClose(t *testing.T) {
	acc := NewAccumulator[string](100, time.Hour)
	in := make(chan broker.Delivery, 1)
	in <- deliveryWithBody("leftover")
	close(in)

	var flushed []string
	acc.Run(in, func(d broker.Delivery) (string, bool) { return string(d.Body), true }, func(batch []Item[string]) {
		for _, it := range batch {
			flushed = append(flushed, it.Record)
		}
	})

	if len(flushed) != 1 || flushed[0] != "leftover" {
		t.Fatalf("flushed = %v, want [leftover]", flushed)
	}
}

func TestAccumulatorSkipsRejectedItems(t *testing.T) {
	acc := NewAccumulator[string](2, time.Hour)
	in := make(chan broker.Delivery, 2)
	in <- deliveryWithBody("bad")
	in <- deliveryWithBody("good")
	close(in)

	var flushed []string
	acc.Run(in, func(d broker.Delivery) (string, bool) {
		if string(d.Body) == "bad" {
			return "", false
		}
		return string(d.Body), true
	}, func(batch []Item[string]) {
		for _, it := range batch {
			flushed = append(flushed, it.Record)
		}
	})

	if len(flushed) != 1 || flushed[0] != "good" {
		t.Fatalf("flushed = %v, want [good]", flushed)
	}
}
