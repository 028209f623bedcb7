package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/broker"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

func decodeTelemetry(body []byte, rec *model.Telemetry) error {
	return json.Unmarshal(body, rec)
}

// PendingWrites accumulates one batch's worth of calculator output
// before the single flush transaction (spec §4.7 step 3).
type PendingWrites struct {
	Metrics    []MetricEvent
	Violations []ViolationEvent
}

func (p *PendingWrites) empty() bool { return len(p.Metrics) == 0 && len(p.Violations) == 0 }

// Sink persists one flushed PendingWrites buffer in a single transaction
// (spec §4.7 step 4), under the same batching rules as the Consumer.
type Sink interface {
	Flush(ctx context.Context, batch PendingWrites) error
}

// AlarmPublisher expedites critical violations outside the normal batch
// flush (SPEC_FULL.md Supplemented Features: alarm severity escalation).
type AlarmPublisher interface {
	PublishAlarm(ctx context.Context, alarm model.Alarm) error
}

// CatalogSource returns the currently active calculator Registry. A
// plain *Registry value satisfies it via staticCatalog; *ReloadHandler
// satisfies it directly so a SIGHUP-triggered swap takes effect on the
// very next record with no pipeline restart.
type CatalogSource interface {
	Registry() *Registry
}

type staticCatalog struct{ registry *Registry }

func (s staticCatalog) Registry() *Registry { return s.registry }

// StaticCatalog wraps a fixed Registry as a CatalogSource, for callers
// that don't need SIGHUP-driven reload (e.g. tests).
func StaticCatalog(registry *Registry) CatalogSource { return staticCatalog{registry: registry} }

// Pipeline runs the Engine's per-record steps: enrichment, calculator
// fan-out, buffering, and batched flush (spec §4.7).
type Pipeline struct {
	catalog CatalogSource
	states  *StateStore
	cache   *EnrichmentCache
	sink    Sink
	alarms  AlarmPublisher

	shadowMode bool

	batchSize    int
	batchTimeout time.Duration

	metrics *appmetrics.Metrics
	logger  zerolog.Logger
}

// NewPipeline builds a Pipeline. shadowMode, when true, runs every
// calculator and logs its output but suppresses DB writes and expedited
// alarm publication (spec §4.7 "Shadow mode").
func NewPipeline(catalog CatalogSource, cache *EnrichmentCache, sink Sink, alarms AlarmPublisher, shadowMode bool, batchSize int, batchTimeout time.Duration, metrics *appmetrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		catalog: catalog, states: NewStateStore(), cache: cache, sink: sink, alarms: alarms,
		shadowMode: shadowMode, batchSize: batchSize, batchTimeout: batchTimeout,
		metrics: metrics, logger: logger,
	}
}

// Consume runs the pipeline against in, flushing PendingWrites every
// batchSize records or batchTimeout elapsed, whichever comes first — the
// same shape as the Consumer's Accumulator, applied to calculator output
// instead of raw telemetry rows.
func (p *Pipeline) Consume(ctx context.Context, in <-chan broker.Delivery) {
	acc := NewAccumulator(p.batchSize, p.batchTimeout)
	acc.Run(ctx, in, p.evaluate, p.flush)
}

// evaluate decodes one delivery and fans it out to every registered
// calculator, returning the accumulated PendingWrites for that one
// record and true, or false when it has already settled the delivery
// itself and the record joins no batch.
func (p *Pipeline) evaluate(ctx context.Context, d broker.Delivery) (PendingWrites, bool) {
	var rec model.Telemetry
	if err := decodeTelemetry(d.Body, &rec); err != nil {
		p.logger.Warn().Err(err).Msg("engine: malformed telemetry payload, dropping")
		_ = d.Nack(false)
		return PendingWrites{}, false
	}

	cfg, err := p.cache.Resolve(ctx, rec.Identity)
	if err != nil {
		p.logger.Error().Err(err).Str("identity", rec.Identity).Msg("engine: enrichment lookup failed, nacking for redelivery")
		_ = d.Nack(true)
		return PendingWrites{}, false
	}

	state := p.states.Get(rec.Identity)
	var out PendingWrites
	for _, calc := range p.catalog.Registry().Calculators() {
		start := time.Now()
		result := calc.Evaluate(state, rec, cfg)
		if p.metrics != nil {
			p.metrics.CalculatorInvocations.WithLabelValues(calc.Name()).Inc()
			p.metrics.CalculatorDuration.WithLabelValues(calc.Name()).Observe(time.Since(start).Seconds())
		}

		out.Metrics = append(out.Metrics, result.Metrics...)
		out.Violations = append(out.Violations, result.Violations...)

		for _, v := range result.Violations {
			if p.shadowMode {
				p.logger.Info().Str("identity", v.Identity).Str("calculator", v.Calculator).Str("kind", v.Kind).
					Str("severity", string(v.Severity)).Msg("engine: shadow mode violation (not persisted)")
				continue
			}
			if v.Severity == model.SeverityCritical && p.alarms != nil {
				alarm := model.Alarm{Telemetry: v.Recorded, Kind: v.Kind, Severity: v.Severity}
				if err := p.alarms.PublishAlarm(ctx, alarm); err != nil {
					p.logger.Warn().Err(err).Str("identity", v.Identity).Msg("engine: expedited critical alarm publish failed")
				}
			}
		}
	}

	return out, true
}

// flush persists one batch's accumulated writes in a single transaction
// and acks/nacks every contributing delivery. Shadow mode suppresses the
// DB write entirely but still acks, since shadow mode is about not
// mutating state, not about redelivery.
func (p *Pipeline) flush(ctx context.Context, items []pipelineItem) {
	if len(items) == 0 {
		return
	}

	var batch PendingWrites
	for _, item := range items {
		batch.Metrics = append(batch.Metrics, item.writes.Metrics...)
		batch.Violations = append(batch.Violations, item.writes.Violations...)
	}

	if !p.shadowMode && !batch.empty() {
		if err := p.sink.Flush(ctx, batch); err != nil {
			p.logger.Error().Err(err).Int("batch_size", len(items)).Msg("engine: pending-writes flush failed, nacking batch")
			for _, item := range items {
				_ = item.delivery.Nack(true)
			}
			return
		}
	}

	for _, item := range items {
		_ = item.delivery.Ack()
	}
	if p.metrics != nil {
		p.metrics.ProcessedTotal.WithLabelValues("engine").Add(float64(len(items)))
	}
}
