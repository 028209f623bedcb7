package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/broker"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// WorkerConfig bundles the per-queue tuning a Worker needs alongside its
// collaborators. Queue doubles as the target-table dispatch key the Store
// uses (spec §6).
type WorkerConfig struct {
	Queue        string
	Prefetch     int
	BatchSize    int
	BatchTimeout time.Duration
	DLXSuffix    string
}

// RowMapper reduces a decoded, validated record to its target table's
// column values in column order.
type RowMapper[T any] func(T) []any

// Worker runs one queue's consume -> batch -> dedup -> validate -> write
// -> ack loop (spec §4.6). The Consumer runs Workers for each queue
// (telemetry, alarms, events); Consumer.Workers governs
// how many goroutines of the same queue run concurrently, each with its
// own prefetch channel and Worker instance.
type Worker[T any] struct {
	cfg WorkerConfig

	consumer broker.Consumer
	dedup    *Dedup
	writer   *Writer
	dlq      broker.Publisher

	decode      func([]byte) (T, error)
	fingerprint func(T) string
	validate    func(T) error
	toRow       RowMapper[T]

	metrics *appmetrics.Metrics
	logger  zerolog.Logger

	ctx context.Context
}

// NewWorker builds a Worker for one queue.
func NewWorker[T any](
	cfg WorkerConfig,
	consumer broker.Consumer,
	dedup *Dedup,
	writer *Writer,
	dlq broker.Publisher,
	decode func([]byte) (T, error),
	fingerprint func(T) string,
	validate func(T) error,
	toRow RowMapper[T],
	metrics *appmetrics.Metrics,
	logger zerolog.Logger,
) *Worker[T] {
	return &Worker[T]{
		cfg: cfg, consumer: consumer, dedup: dedup, writer: writer, dlq: dlq,
		decode: decode, fingerprint: fingerprint, validate: validate, toRow: toRow,
		metrics: metrics, logger: logger,
	}
}

// Run blocks until ctx is canceled or the underlying broker connection is
// unrecoverably lost, at which point Deliveries' channel closes and the
// accumulator drains its partial batch before Run returns.
func (w *Worker[T]) Run(ctx context.Context) error {
	w.ctx = ctx
	deliveries, err := w.consumer.Deliveries(ctx, w.cfg.Queue, w.cfg.Prefetch)
	if err != nil {
		return err
	}

	acc := NewAccumulator[T](w.cfg.BatchSize, w.cfg.BatchTimeout)
	acc.Run(deliveries, w.decodeItem, w.flush)
	return nil
}

// decodeItem unmarshals one delivery. A malformed payload is routed to
// the queue's dead-letter queue and nacked without requeue; it never
// enters a batch. Validation happens later, in flush, after the dedup
// partition (spec §4.6 order: dedup -> validator -> writer) so a
// duplicate of an already-rejected record costs nothing more than the
// dedup lookup itself.
func (w *Worker[T]) decodeItem(d broker.Delivery) (T, bool) {
	var zero T
	rec, err := w.decode(d.Body)
	if err != nil {
		w.reject(d, "malformed_payload", "", err)
		return zero, false
	}
	return rec, true
}

// validateItem reports whether item passes validation, rejecting it to
// the dead-letter queue if not.
func (w *Worker[T]) validateItem(item Item[T]) bool {
	if w.validate == nil {
		return true
	}
	if verr := w.validate(item.Record); verr != nil {
		field, reason := "", "validation_failed"
		var ve *ValidationError
		if errors.As(verr, &ve) {
			field = ve.Field
			reason = "validation:" + ve.Field
		}
		w.reject(item.Delivery, reason, field, verr)
		return false
	}
	return true
}

func (w *Worker[T]) reject(d broker.Delivery, reason, field string, cause error) {
	w.logger.Warn().Err(cause).Str("queue", w.cfg.Queue).Str("reason", reason).Msg("rejecting delivery to dead-letter queue")
	if err := broker.DeadLetter(w.ctx, w.dlq, w.cfg.DLXSuffix, w.cfg.Queue, reason, field, d.Body); err != nil {
		w.logger.Error().Err(err).Str("queue", w.cfg.Queue).Msg("dead-letter publish failed")
	}
	if err := d.Nack(false); err != nil {
		w.logger.Error().Err(err).Str("queue", w.cfg.Queue).Msg("nack failed")
	}
	if w.metrics != nil {
		w.metrics.FailedTotal.WithLabelValues(w.cfg.Queue, reason).Inc()
		w.metrics.DLQTotal.WithLabelValues(w.cfg.Queue, reason).Inc()
	}
}

// flush dedups, writes, and acks/nacks one completed batch. Dedup hits
// are acked immediately (spec §4.6 idempotence: a duplicate contributes
// no row but is still removed from the queue). A persistent write
// failure dead-letters every surviving record in the batch with reason
// db_write_failure and nacks without requeue (spec §4.6 batch atomicity:
// nothing in a rolled-back batch is acked).
func (w *Worker[T]) flush(batch []Item[T]) {
	fingerprints := make([]string, len(batch))
	for i, item := range batch {
		fingerprints[i] = w.fingerprint(item.Record)
	}

	duplicates, err := w.dedup.Filter(w.ctx, fingerprints)
	if err != nil {
		w.logger.Error().Err(err).Str("queue", w.cfg.Queue).Msg("dedup lookup failed, nacking batch for redelivery")
		for _, item := range batch {
			_ = item.Delivery.Nack(true)
		}
		return
	}

	rows := make([]Row, 0, len(batch))
	surviving := make([]Item[T], 0, len(batch))
	for i, item := range batch {
		if duplicates[fingerprints[i]] {
			if w.metrics != nil {
				w.metrics.DedupDropTotal.WithLabelValues(w.cfg.Queue, "checked").Inc()
			}
			_ = item.Delivery.Ack()
			continue
		}
		if !w.validateItem(item) {
			continue
		}
		rows = append(rows, Row{Fingerprint: fingerprints[i], Columns: w.toRow(item.Record)})
		surviving = append(surviving, item)
	}

	if len(rows) == 0 {
		return
	}

	if err := w.writer.WriteBatch(w.ctx, w.cfg.Queue, rows); err != nil {
		w.logger.Error().Err(err).Str("queue", w.cfg.Queue).Int("batch_size", len(rows)).
			Msg("batch write failed persistently, routing batch to dead-letter queue")
		for _, item := range surviving {
			_ = broker.DeadLetter(w.ctx, w.dlq, w.cfg.DLXSuffix, w.cfg.Queue, "db_write_failure", "", item.Delivery.Body)
			_ = item.Delivery.Nack(false)
		}
		if w.metrics != nil {
			w.metrics.FailedTotal.WithLabelValues(w.cfg.Queue, "db_write_failure").Add(float64(len(surviving)))
			w.metrics.DLQTotal.WithLabelValues(w.cfg.Queue, "db_write_failure").Add(float64(len(surviving)))
		}
		return
	}

	for _, item := range surviving {
		_ = item.Delivery.Ack()
	}
	if w.metrics != nil {
		w.metrics.ProcessedTotal.WithLabelValues(w.cfg.Queue).Add(float64(len(surviving)))
	}
}

// NewTelemetryWorker wires a Worker[model.Telemetry] for the telemetry
// queue: JSON decode, ValidateTelemetry, and a column mapping for the
// telemetry target table.
func NewTelemetryWorker(cfg WorkerConfig, consumer broker.Consumer, dedup *Dedup, writer *Writer, dlq broker.Publisher, metrics *appmetrics.Metrics, logger zerolog.Logger) *Worker[model.Telemetry] {
	return NewWorker(cfg, consumer, dedup, writer, dlq,
		decodeJSON[model.Telemetry],
		model.Telemetry.FingerprintKey,
		ValidateTelemetry,
		telemetryRow,
		metrics, logger)
}

// NewAlarmWorker wires a Worker[model.Alarm] for the alarms queue.
func NewAlarmWorker(cfg WorkerConfig, consumer broker.Consumer, dedup *Dedup, writer *Writer, dlq broker.Publisher, metrics *appmetrics.Metrics, logger zerolog.Logger) *Worker[model.Alarm] {
	return NewWorker(cfg, consumer, dedup, writer, dlq,
		decodeJSON[model.Alarm],
		model.Alarm.FingerprintKey,
		validateAlarm,
		alarmRow,
		metrics, logger)
}

// NewEventWorker wires a Worker[map[string]any] for the events queue.
// Events are free-form (spec §3: connection lifecycle and similar
// operational records the Gateway publishes via Publisher.PublishEvent),
// so unlike telemetry/alarms there is no fixed Go struct to decode into.
func NewEventWorker(cfg WorkerConfig, consumer broker.Consumer, dedup *Dedup, writer *Writer, dlq broker.Publisher, metrics *appmetrics.Metrics, logger zerolog.Logger) *Worker[map[string]any] {
	return NewWorker(cfg, consumer, dedup, writer, dlq,
		decodeJSON[map[string]any],
		eventFingerprint,
		validateEvent,
		eventRow,
		metrics, logger)
}

func decodeJSON[T any](body []byte) (T, error) {
	var v T
	err := json.Unmarshal(body, &v)
	return v, err
}

func telemetryRow(t model.Telemetry) []any {
	ioJSON, _ := json.Marshal(t.IO)
	return []any{
		t.Identity, t.Sequence, t.Timestamp, t.TimestampValid,
		t.Position.Latitude, t.Position.Longitude, t.Position.Altitude,
		t.Position.Heading, t.Position.SpeedKmh, t.Position.Satellites,
		ioJSON, t.Ignition, t.MileageM, string(t.Network), t.RawFrameID,
	}
}

func alarmRow(a model.Alarm) []any {
	row := telemetryRow(a.Telemetry)
	return append(row, a.Kind, string(a.Severity))
}

func validateAlarm(a model.Alarm) error {
	if err := ValidateTelemetry(a.Telemetry); err != nil {
		return err
	}
	if a.Kind == "" {
		return &ValidationError{Field: "kind", Reason: "alarm kind must not be empty"}
	}
	return nil
}

func eventFingerprint(e map[string]any) string {
	identity, _ := e["identity"].(string)
	eventType, _ := e["type"].(string)
	ts, _ := e["timestamp"].(string)
	return identity + "|" + eventType + "|" + ts
}

func validateEvent(e map[string]any) error {
	if _, ok := e["type"]; !ok {
		return &ValidationError{Field: "type", Reason: "event record missing type"}
	}
	if _, ok := e["timestamp"]; !ok {
		return &ValidationError{Field: "timestamp", Reason: "event record missing timestamp"}
	}
	return nil
}

func eventRow(e map[string]any) []any {
	identity, _ := e["identity"].(string)
	eventType, _ := e["type"].(string)
	ts, _ := e["timestamp"].(string)
	body, _ := json.Marshal(e)
	return []any{identity, eventType, ts, body}
}
