// Package appmetrics defines the Prometheus collectors shared across the
// Gateway, Consumer, and Engine (spec §6): processed/failed counts per
// queue, batch write latency, per-calculator invocation stats, breaker
// state gauges, and the readiness gauge.
package appmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors one service instance registers. Each
// binary constructs its own Metrics and registers it into its own
// registry — no package-level globals.
type Metrics struct {
	ProcessedTotal *prometheus.CounterVec
	FailedTotal    *prometheus.CounterVec
	DedupDropTotal *prometheus.CounterVec
	DLQTotal       *prometheus.CounterVec

	BatchWriteLatency *prometheus.HistogramVec
	BatchSize         *prometheus.HistogramVec

	CalculatorInvocations *prometheus.CounterVec
	CalculatorDuration    *prometheus.HistogramVec

	BreakerState *prometheus.GaugeVec
	Readiness    prometheus.Gauge

	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	BackpressureOn    prometheus.Gauge

	CommandsSent       prometheus.Counter
	CommandsSuccessful prometheus.Counter
	CommandsNoReply    prometheus.Counter
	CommandsFailed     prometheus.Counter

	JobsClaimed *prometheus.CounterVec
	JobsDone    *prometheus.CounterVec
	JobsFailed  *prometheus.CounterVec
}

// New builds the standard metric set for a given service name (used as a
// constant label so all three binaries can share one Grafana dashboard).
func New(service string) *Metrics {
	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		ProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telemetry_processed_total",
			Help:        "Records successfully processed, by queue.",
			ConstLabels: constLabels,
		}, []string{"queue"}),

		FailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telemetry_failed_total",
			Help:        "Records that failed processing, by queue and reason.",
			ConstLabels: constLabels,
		}, []string{"queue", "reason"}),

		DedupDropTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telemetry_dedup_drop_total",
			Help:        "Records dropped as duplicates, by queue; level is always \"checked\" (L1 and L2 hits are not told apart).",
			ConstLabels: constLabels,
		}, []string{"queue", "level"}),

		DLQTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "telemetry_dlq_total",
			Help:        "Records routed to a dead-letter queue, by queue and reason.",
			ConstLabels: constLabels,
		}, []string{"queue", "reason"}),

		BatchWriteLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "telemetry_batch_write_latency_seconds",
			Help:        "Batch DB write latency, by queue.",
			Buckets:     []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"queue"}),

		BatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "telemetry_batch_size",
			Help:        "Number of records per flushed batch, by queue.",
			Buckets:     []float64{1, 5, 10, 25, 50, 100, 250, 500},
			ConstLabels: constLabels,
		}, []string{"queue"}),

		CalculatorInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "engine_calculator_invocations_total",
			Help:        "Calculator invocations, by calculator name.",
			ConstLabels: constLabels,
		}, []string{"calculator"}),

		CalculatorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "engine_calculator_duration_seconds",
			Help:        "Calculator execution duration, by calculator name.",
			Buckets:     []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
			ConstLabels: constLabels,
		}, []string{"calculator"}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "circuit_breaker_state",
			Help:        "Circuit breaker state (0=closed, 1=half_open, 2=open), by dependency.",
			ConstLabels: constLabels,
		}, []string{"dependency"}),

		Readiness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "readiness",
			Help:        "1 when the service is ready to receive traffic, 0 otherwise.",
			ConstLabels: constLabels,
		}),

		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "gateway_connections_active",
			Help:        "Currently connected devices.",
			ConstLabels: constLabels,
		}),

		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gateway_connections_total",
			Help:        "Total device connections accepted.",
			ConstLabels: constLabels,
		}),

		BackpressureOn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "gateway_backpressure_active",
			Help:        "1 when publisher back-pressure is pausing device reads.",
			ConstLabels: constLabels,
		}),

		CommandsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gateway_commands_sent_total",
			Help:        "Downlink commands written to device sockets.",
			ConstLabels: constLabels,
		}),
		CommandsSuccessful: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gateway_commands_successful_total",
			Help:        "Downlink commands with a matched successful reply.",
			ConstLabels: constLabels,
		}),
		CommandsNoReply: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gateway_commands_no_reply_total",
			Help:        "Downlink commands that timed out waiting for a reply.",
			ConstLabels: constLabels,
		}),
		CommandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "gateway_commands_failed_total",
			Help:        "Outbox commands that failed: expired before being sent, or not written to the device.",
			ConstLabels: constLabels,
		}),

		JobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "engine_recalc_jobs_claimed_total",
			Help:        "Recalculation jobs claimed, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		JobsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "engine_recalc_jobs_done_total",
			Help:        "Recalculation jobs completed, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "engine_recalc_jobs_failed_total",
			Help:        "Recalculation jobs that failed, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
	}

	return m
}

// Register adds every collector in m to reg.
func (m *Metrics) Register(reg *prometheus.Registry) {
	reg.MustRegister(
		m.ProcessedTotal, m.FailedTotal, m.DedupDropTotal, m.DLQTotal,
		m.BatchWriteLatency, m.BatchSize,
		m.CalculatorInvocations, m.CalculatorDuration,
		m.BreakerState, m.Readiness,
		m.ConnectionsActive, m.ConnectionsTotal, m.BackpressureOn,
		m.CommandsSent, m.CommandsSuccessful, m.CommandsNoReply, m.CommandsFailed,
		m.JobsClaimed, m.JobsDone, m.JobsFailed,
	)
}
