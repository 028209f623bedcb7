// Package config loads the process-wide configuration value once at
// startup and never mutates it in place. Atomic can swap in a new Config
// through an atomic.Pointer, but no service reloads the Config; the
// Engine's SIGHUP reload swaps only the calculator catalog.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Broker holds the AMQP broker connection and publish settings (spec §6).
type Broker struct {
	Host               string        `env:"BROKER_HOST" envDefault:"localhost"`
	Port               int           `env:"BROKER_PORT" envDefault:"5672"`
	VHost              string        `env:"BROKER_VHOST" envDefault:"/"`
	User               string        `env:"BROKER_USER" envDefault:"guest"`
	Password           string        `env:"BROKER_PASSWORD" envDefault:"guest"`
	Exchange           string        `env:"BROKER_EXCHANGE" envDefault:"telemetry"`
	Confirms           bool          `env:"BROKER_CONFIRMS" envDefault:"true"`
	ConfirmTimeout     time.Duration `env:"BROKER_CONFIRM_TIMEOUT" envDefault:"5s"`
	MessagePersistent  bool          `env:"BROKER_MESSAGE_PERSISTENT" envDefault:"true"`
	DLXSuffix          string        `env:"BROKER_DLX_SUFFIX" envDefault:".dlx"`
}

// URL returns the amqp091-go connection URL built from the broker fields.
func (b Broker) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", b.User, b.Password, b.Host, b.Port, b.VHost)
}

// Consumer holds the per-queue worker settings shared by the Consumer and
// the Engine (spec §6).
type Consumer struct {
	Workers      int           `env:"CONSUMER_WORKERS" envDefault:"4"`
	Prefetch     int           `env:"CONSUMER_PREFETCH" envDefault:"200"`
	BatchSize    int           `env:"CONSUMER_BATCH_SIZE" envDefault:"50"`
	BatchTimeout time.Duration `env:"CONSUMER_BATCH_TIMEOUT" envDefault:"2s"`
}

// Database holds the pgx pool settings (spec §6).
type Database struct {
	Host            string        `env:"DATABASE_HOST" envDefault:"localhost"`
	Port            int           `env:"DATABASE_PORT" envDefault:"5432"`
	Name            string        `env:"DATABASE_NAME" envDefault:"telemetry"`
	User            string        `env:"DATABASE_USER" envDefault:"telemetry"`
	Password        string        `env:"DATABASE_PASSWORD" envDefault:""`
	SSLMode         string        `env:"DATABASE_SSLMODE" envDefault:"disable"`
	PoolMin         int32         `env:"DATABASE_POOL_MIN" envDefault:"2"`
	PoolMax         int32         `env:"DATABASE_POOL_MAX" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// DSN renders a libpq-style connection string for pgxpool.ParseConfig.
func (d Database) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// Engine holds Engine-specific tuning (spec §6).
type Engine struct {
	Consumer
	ShadowMode                  bool          `env:"ENGINE_SHADOW_MODE" envDefault:"false"`
	RecalcPollInterval          time.Duration `env:"ENGINE_RECALC_POLL_INTERVAL" envDefault:"2s"`
	ScheduledRefreshInterval    time.Duration `env:"ENGINE_SCHEDULED_REFRESH_INTERVAL" envDefault:"1h"`
	ScheduledRefreshInitialDelay time.Duration `env:"ENGINE_SCHEDULED_REFRESH_INITIAL_DELAY" envDefault:"1m"`
	CatalogReloadOnSighup        bool          `env:"ENGINE_CATALOG_RELOAD_ON_SIGHUP" envDefault:"true"`
	JobLeaseDuration             time.Duration `env:"ENGINE_JOB_LEASE_DURATION" envDefault:"2m"`
}

// Gateway holds Gateway-specific tuning (spec §6).
type Gateway struct {
	BindIP                  string        `env:"GATEWAY_BIND_IP" envDefault:"0.0.0.0"`
	Port                    int           `env:"GATEWAY_PORT" envDefault:"5027"`
	ListenBacklog           int           `env:"GATEWAY_LISTEN_BACKLOG" envDefault:"1024"`
	MaxConcurrentConns      int           `env:"GATEWAY_MAX_CONCURRENT_CONNECTIONS" envDefault:"10000"`
	IdleTimeout             time.Duration `env:"GATEWAY_IDLE_TIMEOUT" envDefault:"10m"`
	OutboxTimeoutMinutes    int           `env:"GATEWAY_OUTBOX_TIMEOUT_MINUTES" envDefault:"1"`
	ReplyTimeoutMinutes     int           `env:"GATEWAY_REPLY_TIMEOUT_MINUTES" envDefault:"2"`
	CommandPollInterval     time.Duration `env:"GATEWAY_COMMAND_POLL_INTERVAL" envDefault:"5s"`
	CommandBatchSize        int           `env:"GATEWAY_COMMAND_BATCH_SIZE" envDefault:"50"`
	SweepInterval           time.Duration `env:"GATEWAY_SWEEP_INTERVAL" envDefault:"1m"`
	DeviceTZOffsetMinutes   int           `env:"GATEWAY_DEVICE_TZ_OFFSET_MINUTES" envDefault:"0"`
	ReadIdleTimeout         time.Duration `env:"GATEWAY_READ_IDLE_TIMEOUT" envDefault:"5m"`

	ConnRateLimitPerIP     float64       `env:"GATEWAY_CONN_RATE_LIMIT_PER_IP" envDefault:"1.0"`
	ConnBurstPerIP         int           `env:"GATEWAY_CONN_BURST_PER_IP" envDefault:"10"`
	ConnRateLimitIPTTL     time.Duration `env:"GATEWAY_CONN_RATE_LIMIT_IP_TTL" envDefault:"5m"`
	ConnRateLimitGlobal    float64       `env:"GATEWAY_CONN_RATE_LIMIT_GLOBAL" envDefault:"200"`
	ConnBurstGlobal        int           `env:"GATEWAY_CONN_BURST_GLOBAL" envDefault:"500"`
}

// Logging holds structured-logging settings shared by every service.
type Logging struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Config is the immutable, process-wide configuration value. It is built
// once at startup by Load and passed explicitly to every component that
// needs it — never reached through a package-level global.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	Broker   Broker
	Database Database
	Consumer Consumer
	Engine   Engine
	Gateway  Gateway
	Logging  Logging

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	HealthAddr  string `env:"HEALTH_ADDR" envDefault:":8080"`
}

// Load reads configuration from an optional .env file and from the
// environment, validates it, and returns an immutable Config. Priority:
// ENV vars > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return cfg, nil
}

// Validate applies range and enum checks the way the reference server's
// Config.Validate does — fail fast at startup rather than at first use.
func (c *Config) Validate() error {
	if c.Gateway.MaxConcurrentConns < 1 {
		return fmt.Errorf("GATEWAY_MAX_CONCURRENT_CONNECTIONS must be > 0, got %d", c.Gateway.MaxConcurrentConns)
	}
	if c.Consumer.Workers < 1 {
		return fmt.Errorf("CONSUMER_WORKERS must be > 0, got %d", c.Consumer.Workers)
	}
	if c.Consumer.BatchSize < 1 {
		return fmt.Errorf("CONSUMER_BATCH_SIZE must be > 0, got %d", c.Consumer.BatchSize)
	}
	if c.Database.PoolMax < c.Database.PoolMin {
		return fmt.Errorf("DATABASE_POOL_MAX (%d) must be >= DATABASE_POOL_MIN (%d)", c.Database.PoolMax, c.Database.PoolMin)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true, "pretty": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of json, text, pretty (got %q)", c.Logging.Format)
	}
	return nil
}
