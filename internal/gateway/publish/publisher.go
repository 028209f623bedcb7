// Package publish bridges decoded Telemetry/Alarm records to the broker,
// applying the routing-key-per-kind rule and surfacing back-pressure to
// the caller so the decoder can pause reads from that device (spec §4.3).
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/broker"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// Routing keys match the three durable queues the Consumer and Engine
// read from (spec §6).
const (
	RoutingKeyTelemetry = "telemetry"
	RoutingKeyAlarms    = "alarms"
	RoutingKeyEvents    = "events"
)

// Publisher publishes decoded records for one Gateway connection.
type Publisher struct {
	pub     broker.Publisher
	metrics *appmetrics.Metrics
}

// New builds a Publisher over pub.
func New(pub broker.Publisher, metrics *appmetrics.Metrics) *Publisher {
	return &Publisher{pub: pub, metrics: metrics}
}

// PublishTelemetry publishes one decoded telemetry record with persistent
// delivery and publisher confirms. A non-nil error is always an
// *broker.ErrBackpressure or a context error — the caller should pause
// further reads from the originating connection until it clears.
func (p *Publisher) PublishTelemetry(ctx context.Context, rec model.Telemetry) error {
	return p.publish(ctx, RoutingKeyTelemetry, rec)
}

// PublishAlarm publishes one alarm/event record to the alarms queue.
func (p *Publisher) PublishAlarm(ctx context.Context, alarm model.Alarm) error {
	return p.publish(ctx, RoutingKeyAlarms, alarm)
}

// PublishEvent publishes a free-form event record (e.g. connection
// lifecycle) to the events queue.
func (p *Publisher) PublishEvent(ctx context.Context, payload any) error {
	return p.publish(ctx, RoutingKeyEvents, payload)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("publish: marshal %s: %w", routingKey, err)
	}

	err = p.pub.Publish(ctx, broker.Message{
		ID:         uuid.NewString(),
		RoutingKey: routingKey,
		Body:       body,
		Persistent: true,
		Timestamp:  time.Now(),
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.FailedTotal.WithLabelValues(routingKey, "publish_backpressure").Inc()
		}
		return err
	}
	if p.metrics != nil {
		p.metrics.ProcessedTotal.WithLabelValues(routingKey).Inc()
	}
	return nil
}
