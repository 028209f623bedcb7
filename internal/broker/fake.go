package broker

import (
	"context"
	"sync"
)

// Fake is an in-memory Publisher+Consumer used by Gateway/Consumer/Engine
// unit tests. Publish appends to a per-routing-key queue; Deliveries drains
// the named queue. It never applies back-pressure unless Failing is set.
type Fake struct {
	mu      sync.Mutex
	queues  map[string][]Message
	waiters map[string]chan struct{}

	Failing bool

	Published []Message
}

// NewFake returns a ready-to-use Fake broker.
func NewFake() *Fake {
	return &Fake{
		queues:  make(map[string][]Message),
		waiters: make(map[string]chan struct{}),
	}
}

func (f *Fake) Publish(ctx context.Context, msg Message) error {
	f.mu.Lock()
	if f.Failing {
		f.mu.Unlock()
		return &ErrBackpressure{Cause: errFakeFailing}
	}
	f.Published = append(f.Published, msg)
	f.queues[msg.RoutingKey] = append(f.queues[msg.RoutingKey], msg)
	waiter := f.waiters[msg.RoutingKey]
	f.mu.Unlock()
	if waiter != nil {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
	return nil
}

func (f *Fake) Healthy(ctx context.Context) bool { return !f.Failing }
func (f *Fake) Close() error                     { return nil }

// Deliveries returns a channel fed from the named queue (routing key).
// Messages already published before Deliveries is called are replayed
// first, in publish order.
func (f *Fake) Deliveries(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			f.mu.Lock()
			pending := f.queues[queue]
			f.queues[queue] = nil
			f.mu.Unlock()

			for _, msg := range pending {
				select {
				case out <- Delivery{Message: msg, Ack: func() error { return nil }, Nack: func(bool) error { return nil }}:
				case <-ctx.Done():
					return
				}
			}

			wake := make(chan struct{}, 1)
			f.mu.Lock()
			f.waiters[queue] = wake
			f.mu.Unlock()

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

type fakeError string

func (e fakeError) Error() string { return string(e) }

const errFakeFailing = fakeError("fake broker: Failing is set")
