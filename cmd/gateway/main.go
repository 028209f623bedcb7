// Command gateway runs the device-facing TCP ingest server: the accept
// loop, the connection table, the downlink command poller/sweeper, and
// the metrics/health HTTP endpoints (spec §4.2, §4.4, §4.5).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
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
	"github.com/fleetpulse/telemetry-core/internal/gateway"
	"github.com/fleetpulse/telemetry-core/internal/gateway/command"
	"github.com/fleetpulse/telemetry-core/internal/gateway/publish"
	"github.com/fleetpulse/telemetry-core/internal/gateway/store"
	"github.com/fleetpulse/telemetry-core/internal/health"
	"github.com/fleetpulse/telemetry-core/internal/logging"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

func main() {
	bootLogger := logging.New(logging.Options{Level: "info", Format: "json", Service: "gateway"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("gateway: config load failed")
	}
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Service: "gateway"})
	atomicCfg := config.NewAtomic(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics := appmetrics.New("gateway")
	metrics.Register(reg)

	db, err := dbx.Open(ctx, cfg.Database, 5, 30*time.Second)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway: database open failed")
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
		logger.Fatal().Err(err).Msg("gateway: broker dial failed")
	}
	defer brokerClient.Close()

	brokerBreaker := breaker.New("broker", 5, 30*time.Second, metrics.BreakerState)
	pub := publish.New(brokerClient.NewPublisher(), metrics)

	cmdStore := store.NewCommandStore(db)
	correlator := command.NewCorrelator(cmdStore, metrics, logger)

	guard := gateway.NewConnectionGuard(
		cfg.Gateway.ConnRateLimitPerIP, cfg.Gateway.ConnBurstPerIP, cfg.Gateway.ConnRateLimitIPTTL,
		cfg.Gateway.ConnRateLimitGlobal, cfg.Gateway.ConnBurstGlobal,
		metrics, logger,
	)

	srv := gateway.New(atomicCfg, pub, correlator, guard, brokerBreaker, metrics, logger)

	sweeper := command.NewSweeper(cmdStore, model.DeliveryGPRS,
		time.Duration(cfg.Gateway.OutboxTimeoutMinutes)*time.Minute, time.Duration(cfg.Gateway.ReplyTimeoutMinutes)*time.Minute,
		cfg.Gateway.SweepInterval, metrics, logger)

	healthSrv := health.New(metrics.Readiness)
	healthSrv.Register("database", db.Healthy)
	healthSrv.Register("broker", func() bool { return brokerClient.Healthy(ctx) })

	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("gateway: listen failed")
	}

	go srv.RunIdleSweep(ctx)
	for _, method := range model.GatewayManagedMethods {
		poller := command.NewPoller(cmdStore, srv, srv.ConnectedIdentities, method, cfg.Gateway.CommandPollInterval, cfg.Gateway.CommandBatchSize, metrics, logger)
		go poller.Run(ctx)
	}
	go sweeper.Run(ctx)
	go serveHTTP(ctx, cfg.HealthAddr, healthSrv.Handler(), logger, "health")
	go serveHTTP(ctx, cfg.MetricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger, "metrics")

	logger.Info().Msg("gateway: ready")
	<-ctx.Done()

	logger.Info().Msg("gateway: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx, 10*time.Second); err != nil {
		logger.Error().Err(err).Msg("gateway: shutdown error")
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
		logger.Error().Err(err).Str("addr", addr).Msg(fmt.Sprintf("gateway: %s server failed", name))
	}
}
