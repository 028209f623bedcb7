// Package broker defines the capability interfaces the Gateway, Consumer,
// and Engine use to talk to the message broker. Modeled as an interface
// plus one concrete implementation plus a test fake (spec §9 "Class
// hierarchies with shared session"), grounded on the adapter-pattern
// messaging package retrieved for this spec (messaging.Producer/Consumer)
// and the lease-based MessageQueue interface in the mq reference package.
package broker

import (
	"context"
	"time"
)

// Message is a unit published to or received from the broker. RoutingKey
// selects the destination queue via the exchange's bindings (spec §6).
type Message struct {
	ID         string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
	Persistent bool
	Timestamp  time.Time
}

// Delivery wraps a received Message with its acknowledgment decision.
// Exactly one of Ack or Nack must be called per delivery (spec §3
// invariant: every delivery tag is acked or explicitly nacked).
type Delivery struct {
	Message
	Ack  func() error
	Nack func(requeue bool) error
}

// Publisher publishes messages to the broker (spec §4.3). With confirms
// enabled, a publish only returns nil once the broker has confirmed
// receipt within the configured timeout; without them it returns nil as
// soon as the publish call succeeds.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Healthy(ctx context.Context) bool
	Close() error
}

// Consumer delivers messages from one named queue. Deliveries is a
// long-lived channel; it closes when ctx is canceled or the underlying
// connection is unrecoverably lost.
type Consumer interface {
	Deliveries(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
	Close() error
}

// ErrBackpressure is returned by Publish when the broker is applying
// back-pressure (unconfirmed publish, channel error, or reconnecting) and
// the caller should pause upstream reads (spec §4.3).
type ErrBackpressure struct{ Cause error }

func (e *ErrBackpressure) Error() string { return "broker: back-pressure: " + e.Cause.Error() }
func (e *ErrBackpressure) Unwrap() error { return e.Cause }
