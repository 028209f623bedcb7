// Package pgstore is the Engine's pgx-backed implementation of
// engine.Sink, engine.ConfigSource, and the recalc.Store/recalc.Executor
// pair, grounded on the same transactional-batch-insert pattern as
// internal/consumer/pgstore and internal/gateway/store.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetpulse/telemetry-core/internal/dbx"
	"github.com/fleetpulse/telemetry-core/internal/engine"
)

// Store implements engine.Sink and engine.ConfigSource over a dbx.Pool.
type Store struct {
	db *dbx.Pool
}

// New wraps db as an engine.Sink/engine.ConfigSource.
func New(db *dbx.Pool) *Store {
	return &Store{db: db}
}

// Flush persists one batch's metric and violation rows in a single
// transaction (spec §4.7 step 4).
func (s *Store) Flush(ctx context.Context, batch engine.PendingWrites) error {
	return s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		for _, m := range batch.Metrics {
			if _, err := tx.Exec(ctx, `
				INSERT INTO metric_events (identity, calculator, name, value, recorded_at)
				VALUES ($1, $2, $3, $4, $5)`,
				m.Identity, m.Calculator, m.Name, m.Value, m.Recorded.Timestamp); err != nil {
				return fmt.Errorf("insert metric_events: %w", err)
			}
		}

		for _, v := range batch.Violations {
			if _, err := tx.Exec(ctx, `
				INSERT INTO violation_events (identity, calculator, kind, severity, detail, formula_version, recorded_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				v.Identity, v.Calculator, v.Kind, string(v.Severity), v.Detail, v.FormulaVersion, v.Recorded.Timestamp); err != nil {
				return fmt.Errorf("insert violation_events: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
}

// DeviceConfig looks up one device's enrichment config. A missing row is
// not an error: it means no per-device overrides exist, and calculators
// treat a zero-value threshold as "not configured" (e.g. Speeding skips
// devices with no configured speed limit).
func (s *Store) DeviceConfig(ctx context.Context, identity string) (engine.DeviceConfig, error) {
	cfg := engine.DeviceConfig{Identity: identity}
	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		var idleSeconds int64
		var extraJSON []byte
		row := pool.QueryRow(ctx, `
			SELECT tenant, speed_limit_kmh, idle_threshold_seconds, harsh_accel_gthou, extra
			FROM device_configs WHERE identity = $1`, identity)
		err := row.Scan(&cfg.Tenant, &cfg.SpeedLimitKmh, &idleSeconds, &cfg.HarshAccelGThou, &extraJSON)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select device_configs: %w", err)
		}
		cfg.IdleThreshold = time.Duration(idleSeconds) * time.Second
		if len(extraJSON) > 0 {
			if err := json.Unmarshal(extraJSON, &cfg.Extra); err != nil {
				return fmt.Errorf("unmarshal device_configs.extra: %w", err)
			}
		}
		return nil
	})
	return cfg, err
}
