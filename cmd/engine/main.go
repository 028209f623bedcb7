// Command engine consumes the telemetry queue, evaluates every record
// against the live calculator catalog, persists metrics/violations in
// batches, expedites critical alarms, and drains the recalculation job
// queue (spec §4.7).
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
	"github.com/fleetpulse/telemetry-core/internal/breaker"
	"github.com/fleetpulse/telemetry-core/internal/broker"
	"github.com/fleetpulse/telemetry-core/internal/config"
	"github.com/fleetpulse/telemetry-core/internal/dbx"
	"github.com/fleetpulse/telemetry-core/internal/engine"
	"github.com/fleetpulse/telemetry-core/internal/engine/calculators"
	"github.com/fleetpulse/telemetry-core/internal/engine/pgstore"
	"github.com/fleetpulse/telemetry-core/internal/engine/recalc"
	"github.com/fleetpulse/telemetry-core/internal/gateway/publish"
	"github.com/fleetpulse/telemetry-core/internal/health"
	"github.com/fleetpulse/telemetry-core/internal/logging"
)

const enrichmentTTL = 5 * time.Minute

func buildCatalog() *engine.Registry {
	return engine.NewRegistry(
		&calculators.Speeding{},
		&calculators.HarshEvent{},
		&calculators.Idle{},
	)
}

func main() {
	bootLogger := logging.New(logging.Options{Level: "info", Format: "json", Service: "engine"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("engine: config load failed")
	}
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: "engine"})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := appmetrics.New("engine")
	metrics.Register(reg)

	db, err := dbx.Open(ctx, cfg.Database, 5, 30*time.Second)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: database open failed")
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
		logger.Fatal().Err(err).Msg("engine: broker dial failed")
	}
	defer brokerClient.Close()
	brokerBreaker := breaker.New("broker", 5, 30*time.Second, metrics.BreakerState)

	store := pgstore.New(db)
	recalcStore := pgstore.NewRecalcStore(db)

	reloadHandler := engine.NewReloadHandler(buildCatalog, recalcStore, logger)
	cache := engine.NewEnrichmentCache(store, enrichmentTTL)
	alarmPublisher := publish.New(brokerClient.NewPublisher(), metrics)

	pipeline := engine.NewPipeline(reloadHandler, cache, store, alarmPublisher, cfg.Engine.ShadowMode,
		cfg.Engine.BatchSize, cfg.Engine.BatchTimeout, metrics, logger)

	executor := pgstore.NewExecutor(db, reloadHandler)
	recalcWorker := recalc.NewWorker(recalcStore, executor, cfg.Engine.RecalcPollInterval, cfg.Engine.JobLeaseDuration, metrics, logger)
	scheduler := recalc.NewScheduler(recalcStore, cfg.Engine.ScheduledRefreshInterval, cfg.Engine.ScheduledRefreshInitialDelay, logger)

	deliveries, err := brokerClient.NewConsumer().Deliveries(ctx, "telemetry", cfg.Engine.Prefetch)
	if err != nil {
		logger.Fatal().Err(err).Msg("engine: telemetry consumer failed")
	}

	healthSrv := health.New(metrics.Readiness)
	healthSrv.Register("database", db.Healthy)
	healthSrv.Register("broker", func() bool { return brokerBreaker.Healthy() && brokerClient.Healthy(ctx) })

	go pipeline.Consume(ctx, deliveries)
	go recalcWorker.Run(ctx)
	go scheduler.Run(ctx)
	if cfg.Engine.CatalogReloadOnSighup {
		go reloadHandler.Run(ctx)
	}
	go serveHTTP(ctx, cfg.HealthAddr, healthSrv.Handler(), logger, "health")
	go serveHTTP(ctx, cfg.MetricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger, "metrics")

	logger.Info().Bool("shadow_mode", cfg.Engine.ShadowMode).Msg("engine: ready")
	<-ctx.Done()
	logger.Info().Msg("engine: shutting down")
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
		logger.Error().Err(err).Str("addr", addr).Str("server", name).Msg("engine: http server failed")
	}
}
