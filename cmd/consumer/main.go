// Command consumer drains the telemetry/alarms/events queues, batches,
// dedupes, validates, and persists each into its target table, routing
// rejects to the per-queue dead-letter queue (spec §4.6).
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/broker"
	"github.com/fleetpulse/telemetry-core/internal/config"
	"github.com/fleetpulse/telemetry-core/internal/consumer"
	"github.com/fleetpulse/telemetry-core/internal/consumer/pgstore"
	"github.com/fleetpulse/telemetry-core/internal/dbx"
	"github.com/fleetpulse/telemetry-core/internal/gateway/publish"
	"github.com/fleetpulse/telemetry-core/internal/health"
	"github.com/fleetpulse/telemetry-core/internal/logging"
)

const dedupCapacity = 100_000

func main() {
	bootLogger := logging.New(logging.Options{Level: "info", Format: "json", Service: "consumer"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("consumer: config load failed")
	}
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: "consumer"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := appmetrics.New("consumer")
	metrics.Register(reg)

	db, err := dbx.Open(ctx, cfg.Database, 5, 30*time.Second)
	if err != nil {
		logger.Fatal().Err(err).Msg("consumer: database open failed")
	}
	defer db.Close()

	topology := broker.Topology{
		Exchange: cfg.Broker.Exchange,
		Queues: []broker.QueueBinding{
			{Queue: "telemetry", RoutingKey: publish.RoutingKeyTelemetry},
			{Queue: "alarms", RoutingKey: publish.RoutingKeyAlarms},
			{Queue: "events", RoutingKey: publish.RoutingKeyEvents},
		},
		DLXSuffix: cfg.Broker.DLXSuffix,
	}
	brokerClient, err := broker.Dial(broker.Config{
		URL:               cfg.Broker.URL(),
		Topology:          topology,
		Confirms:          cfg.Broker.Confirms,
		ConfirmTimeout:    cfg.Broker.ConfirmTimeout,
		MessagePersistent: cfg.Broker.MessagePersistent,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("consumer: broker dial failed")
	}
	defer brokerClient.Close()

	store := pgstore.New(db)
	dedup := consumer.NewDedup(store, dedupCapacity)
	writer := consumer.NewWriter(store, consumer.DefaultRetryPolicy, metrics, logger)
	dlq := brokerClient.NewPublisher()

	healthSrv := health.New(metrics.Readiness)
	healthSrv.Register("database", db.Healthy)
	healthSrv.Register("broker", func() bool { return brokerClient.Healthy(ctx) })

	for i := 0; i < cfg.Consumer.Workers; i++ {
		telemetryWorker := consumer.NewTelemetryWorker(workerConfig(cfg, "telemetry"), brokerClient.NewConsumer(), dedup, writer, dlq, metrics, logger)
		alarmWorker := consumer.NewAlarmWorker(workerConfig(cfg, "alarms"), brokerClient.NewConsumer(), dedup, writer, dlq, metrics, logger)
		eventWorker := consumer.NewEventWorker(workerConfig(cfg, "events"), brokerClient.NewConsumer(), dedup, writer, dlq, metrics, logger)

		go runWorker(ctx, "telemetry", telemetryWorker.Run, logger)
		go runWorker(ctx, "alarms", alarmWorker.Run, logger)
		go runWorker(ctx, "events", eventWorker.Run, logger)
	}
	go serveHTTP(ctx, cfg.HealthAddr, healthSrv.Handler(), logger, "health")
	go serveHTTP(ctx, cfg.MetricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger, "metrics")

	logger.Info().Msg("consumer: ready")
	<-ctx.Done()
	logger.Info().Msg("consumer: shutting down")
}

func workerConfig(cfg *config.Config, queue string) consumer.WorkerConfig {
	return consumer.WorkerConfig{
		Queue:        queue,
		Prefetch:     cfg.Consumer.Prefetch,
		BatchSize:    cfg.Consumer.BatchSize,
		BatchTimeout: cfg.Consumer.BatchTimeout,
		DLXSuffix:    cfg.Broker.DLXSuffix,
	}
}

func runWorker(ctx context.Context, queue string, run func(context.Context) error, logger zerolog.Logger) {
	if err := run(ctx); err != nil {
		logger.Error().Err(err).Str("queue", queue).Msg("consumer: worker exited")
	}
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger, name string) {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Str("addr", addr).Str("server", name).Msg("consumer: http server failed")
	}
}
