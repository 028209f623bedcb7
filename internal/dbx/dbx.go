// Package dbx wraps the pgx connection pool behind the same breaker.Breaker
// every other external dependency uses (spec §4.8), so a failing database
// trips Consumer/Engine batches into fail-fast instead of queueing work
// against it.
package dbx

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetpulse/telemetry-core/internal/breaker"
	"github.com/fleetpulse/telemetry-core/internal/config"
)

// Pool wraps a *pgxpool.Pool with a circuit breaker around every query.
type Pool struct {
	pool    *pgxpool.Pool
	breaker *breaker.Breaker
}

// Open parses cfg into a pgxpool.Config, applies pool bounds and
// connection lifetime, and opens the pool. The breaker trips after
// consecutiveFailures consecutive query errors and cools down for
// cooldown before allowing a probe.
func Open(ctx context.Context, cfg config.Database, consecutiveFailures uint32, cooldown time.Duration) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("dbx: parse config: %w", err)
	}
	poolCfg.MinConns = cfg.PoolMin
	poolCfg.MaxConns = cfg.PoolMax
	poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("dbx: open pool: %w", err)
	}

	return &Pool{
		pool:    pool,
		breaker: breaker.New("database", consecutiveFailures, cooldown, nil),
	}, nil
}

// Breaker returns the circuit breaker wrapping the pool's queries. Open
// builds it without a state gauge.
func (p *Pool) Breaker() *breaker.Breaker { return p.breaker }

// Do runs fn against the pool through the breaker. fn should be short and
// use the *pgxpool.Pool methods directly (Query, Exec, BeginTx, ...).
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	return p.breaker.Do(ctx, func(ctx context.Context) error {
		return fn(ctx, p.pool)
	})
}

// Healthy pings the database through the breaker; used directly as a
// health.Checker.
func (p *Pool) Healthy() bool {
	if !p.breaker.Healthy() {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.pool.Ping(ctx) == nil
}

// Close releases all pooled connections.
func (p *Pool) Close() {
	p.pool.Close()
}
