package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetpulse/telemetry-core/internal/dbx"
	"github.com/fleetpulse/telemetry-core/internal/engine"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// RecalcStore implements recalc.Store over recalculation_queue (spec §6):
// priority-ordered, claimed with a lease via FOR UPDATE SKIP LOCKED so
// multiple Engine replicas can drain the same queue concurrently.
type RecalcStore struct {
	db *dbx.Pool
}

// NewRecalcStore wraps db as a recalc.Store.
func NewRecalcStore(db *dbx.Pool) *RecalcStore {
	return &RecalcStore{db: db}
}

func (s *RecalcStore) Enqueue(ctx context.Context, job model.Job) (int64, error) {
	var id int64
	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		row := pool.QueryRow(ctx, `
			INSERT INTO recalculation_queue
				(job_kind, trigger, status, priority, reason, scope_identity, scope_tenant, scope_date_from, scope_date_to, created_at)
			VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7, $8, now())
			RETURNING id`,
			string(job.Kind), string(job.Trigger), job.Priority, job.Reason,
			nullableString(job.Scope.Identity), nullableString(job.Scope.Tenant), job.Scope.DateFrom, job.Scope.DateTo)
		return row.Scan(&id)
	})
	return id, err
}

func (s *RecalcStore) ClaimNext(ctx context.Context, leaseDuration time.Duration) (model.Job, bool, error) {
	var job model.Job
	var found bool
	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx, `
			SELECT id, job_kind, trigger, priority, reason, scope_identity, scope_tenant, scope_date_from, scope_date_to
			FROM recalculation_queue
			WHERE status = 'pending'
			   OR (status = 'running' AND lease_expires_at < now())
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`)

		var kindStr, triggerStr string
		var scopeIdentity, scopeTenant *string
		err = row.Scan(&job.ID, &kindStr, &triggerStr, &job.Priority, &job.Reason, &scopeIdentity, &scopeTenant, &job.Scope.DateFrom, &job.Scope.DateTo)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("claim next job: %w", err)
		}
		job.Kind = model.JobKind(kindStr)
		job.Trigger = model.JobTrigger(triggerStr)
		if scopeIdentity != nil {
			job.Scope.Identity = *scopeIdentity
		}
		if scopeTenant != nil {
			job.Scope.Tenant = *scopeTenant
		}

		leaseExpires := time.Now().Add(leaseDuration)
		if _, err := tx.Exec(ctx, `
			UPDATE recalculation_queue SET status = 'running', claimed_at = now(), lease_expires_at = $2
			WHERE id = $1`, job.ID, leaseExpires); err != nil {
			return fmt.Errorf("mark job running: %w", err)
		}
		job.Status = model.JobRunning
		job.LeaseExpiresAt = &leaseExpires
		found = true
		return tx.Commit(ctx)
	})
	return job, found, err
}

func (s *RecalcStore) Complete(ctx context.Context, job model.Job) error {
	return s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `UPDATE recalculation_queue SET status = 'done', completed_at = now() WHERE id = $1`, job.ID)
		return err
	})
}

func (s *RecalcStore) Fail(ctx context.Context, job model.Job, reason string) error {
	return s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			UPDATE recalculation_queue SET status = 'failed', reason = $2, completed_at = now() WHERE id = $1`,
			job.ID, reason)
		return err
	})
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MaterializedViews lists the Engine's derived views, in refresh order.
// Scoped single-view refreshes target one of these by name.
var MaterializedViews = []string{
	"daily_device_summary",
	"fleet_violation_rollup",
}

// Executor implements recalc.Executor: recompute_violations re-runs the
// live calculator catalog over the telemetry in scope, and
// refresh_single_view/refresh_all_views refresh the named materialized
// views (spec §4.7).
type Executor struct {
	db      *dbx.Pool
	catalog engine.CatalogSource
}

// NewExecutor builds an Executor. catalog supplies the live calculator
// Registry so a recompute job always reflects the latest formula
// versions, the same catalog the streaming Pipeline evaluates against.
func NewExecutor(db *dbx.Pool, catalog engine.CatalogSource) *Executor {
	return &Executor{db: db, catalog: catalog}
}

func (e *Executor) Execute(ctx context.Context, job model.Job) error {
	switch job.Kind {
	case model.JobRecomputeViolations:
		return e.recomputeViolations(ctx, job)
	case model.JobRefreshSingleView:
		view := job.Reason
		return e.refreshView(ctx, view)
	case model.JobRefreshAllViews:
		for _, view := range MaterializedViews {
			if err := e.refreshView(ctx, view); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("pgstore: unknown job kind %q", job.Kind)
	}
}

// recomputeViolations deletes the scope's existing violation rows and
// regenerates them from source telemetry, making the job idempotent: a
// job re-run after a partial failure produces the same end state.
func (e *Executor) recomputeViolations(ctx context.Context, job model.Job) error {
	return e.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		deleteSQL, deleteArgs := scopedQuery(`DELETE FROM violation_events WHERE true`, job.Scope)
		if _, err := tx.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
			return fmt.Errorf("delete scoped violations: %w", err)
		}

		selectSQL, selectArgs := scopedQuery(`
			SELECT identity, sequence, recorded_at, timestamp_valid, latitude, longitude, altitude, heading, speed_kmh, satellites, ignition, mileage_m
			FROM telemetry_records WHERE true`, job.Scope)
		rows, err := tx.Query(ctx, selectSQL+" ORDER BY identity, recorded_at ASC", selectArgs...)
		if err != nil {
			return fmt.Errorf("select scoped telemetry: %w", err)
		}
		defer rows.Close()

		states := engine.NewStateStore()
		for rows.Next() {
			var rec model.Telemetry
			if err := rows.Scan(&rec.Identity, &rec.Sequence, &rec.Timestamp, &rec.TimestampValid,
				&rec.Position.Latitude, &rec.Position.Longitude, &rec.Position.Altitude, &rec.Position.Heading,
				&rec.Position.SpeedKmh, &rec.Position.Satellites, &rec.Ignition, &rec.MileageM); err != nil {
				return fmt.Errorf("scan telemetry row: %w", err)
			}

			state := states.Get(rec.Identity)
			for _, calc := range e.catalog.Registry().Calculators() {
				result := calc.Evaluate(state, rec, engine.DeviceConfig{Identity: rec.Identity})
				for _, v := range result.Violations {
					if _, err := tx.Exec(ctx, `
						INSERT INTO violation_events (identity, calculator, kind, severity, detail, formula_version, recorded_at)
						VALUES ($1, $2, $3, $4, $5, $6, $7)`,
						v.Identity, v.Calculator, v.Kind, string(v.Severity), v.Detail, v.FormulaVersion, v.Recorded.Timestamp); err != nil {
						return fmt.Errorf("insert recomputed violation: %w", err)
					}
				}
			}
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate scoped telemetry: %w", err)
		}

		return tx.Commit(ctx)
	})
}

func (e *Executor) refreshView(ctx context.Context, view string) error {
	if !isMaterializedView(view) {
		return fmt.Errorf("pgstore: refresh view: %q is not in MaterializedViews", view)
	}
	return e.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		// view is checked against the fixed MaterializedViews allow-list
		// above, so string interpolation (REFRESH MATERIALIZED VIEW takes
		// no query parameter) is safe.
		_, err := pool.Exec(ctx, fmt.Sprintf("REFRESH MATERIALIZED VIEW CONCURRENTLY %s", view))
		return err
	})
}

func isMaterializedView(view string) bool {
	for _, v := range MaterializedViews {
		if v == view {
			return true
		}
	}
	return false
}

// scopedQuery appends WHERE clauses for scope's Identity, DateFrom and
// DateTo, when set, to base, which must already end in a trailing
// "WHERE true" so every clause can be unconditionally ANDed on. The
// scope's Tenant is not applied.
func scopedQuery(base string, scope model.JobScope) (string, []any) {
	query := base
	var args []any
	if scope.Identity != "" {
		args = append(args, scope.Identity)
		query += fmt.Sprintf(" AND identity = $%d", len(args))
	}
	if scope.DateFrom != nil {
		args = append(args, *scope.DateFrom)
		query += fmt.Sprintf(" AND recorded_at >= $%d", len(args))
	}
	if scope.DateTo != nil {
		args = append(args, *scope.DateTo)
		query += fmt.Sprintf(" AND recorded_at <= $%d", len(args))
	}
	return query, args
}
