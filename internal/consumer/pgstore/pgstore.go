// Package pgstore is the Consumer's pgx-backed implementation of
// consumer.Store: a single multi-row insert per target table per batch,
// all inserts for one batch in one transaction (spec §4.6), plus the
// durable half of the two-level dedup check against a fingerprint
// ledger written in the same transaction as the batch it belongs to.
package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetpulse/telemetry-core/internal/consumer"
	"github.com/fleetpulse/telemetry-core/internal/dbx"
)

// tableSpec names a queue's target table and the columns a Worker's
// RowMapper produces, in order. Target tables are opaque to the core
// (spec §6); this is the one place that opaqueness is broken, by
// necessity, to build the INSERT statement.
type tableSpec struct {
	table   string
	columns []string
}

var tableSpecs = map[string]tableSpec{
	"telemetry": {
		table: "telemetry_records",
		columns: []string{
			"identity", "sequence", "recorded_at", "timestamp_valid",
			"latitude", "longitude", "altitude", "heading", "speed_kmh", "satellites",
			"io", "ignition", "mileage_m", "network", "raw_frame_id",
		},
	},
	"alarms": {
		table: "alarm_records",
		columns: []string{
			"identity", "sequence", "recorded_at", "timestamp_valid",
			"latitude", "longitude", "altitude", "heading", "speed_kmh", "satellites",
			"io", "ignition", "mileage_m", "network", "raw_frame_id",
			"kind", "severity",
		},
	},
	"events": {
		table:   "event_records",
		columns: []string{"identity", "event_type", "occurred_at", "payload"},
	},
}

// Store implements consumer.Store over a dbx.Pool.
type Store struct {
	db *dbx.Pool
}

// New wraps db as a consumer.Store.
func New(db *dbx.Pool) *Store {
	return &Store{db: db}
}

// WriteBatch inserts rows into queue's target table and records each
// row's fingerprint in the dedup ledger, all in one transaction. A
// connection-level or serialization failure is classified transient and
// wrapped so the Writer retries it; any other error is persistent.
func (s *Store) WriteBatch(ctx context.Context, queue string, rows []consumer.Row) error {
	spec, ok := tableSpecs[queue]
	if !ok {
		return fmt.Errorf("pgstore: unknown queue %q", queue)
	}

	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		insertSQL, args := buildMultiRowInsert(spec, rows)
		if _, err := tx.Exec(ctx, insertSQL, args...); err != nil {
			return err
		}

		fpSQL, fpArgs := buildFingerprintInsert(queue, rows)
		if _, err := tx.Exec(ctx, fpSQL, fpArgs...); err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil && isTransient(err) {
		return &consumer.TransientError{Cause: err}
	}
	return err
}

// SeenFingerprints reports which of keys are already present in the
// dedup ledger, regardless of which queue wrote them — fingerprints are
// globally unique by construction (identity + timestamp + frame hash).
func (s *Store) SeenFingerprints(ctx context.Context, keys []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return seen, nil
	}
	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `SELECT fingerprint FROM dedup_fingerprints WHERE fingerprint = ANY($1)`, keys)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var fp string
			if err := rows.Scan(&fp); err != nil {
				return err
			}
			seen[fp] = true
		}
		return rows.Err()
	})
	return seen, err
}

// buildMultiRowInsert renders a single INSERT ... VALUES (...), (...), ...
// statement for rows against spec's table and columns, with ON CONFLICT
// DO NOTHING on the fingerprint unique constraint as a last-resort
// safety net behind the application-level dedup check.
func buildMultiRowInsert(spec tableSpec, rows []consumer.Row) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (fingerprint, %s) VALUES ", spec.table, strings.Join(spec.columns, ", "))

	args := make([]any, 0, len(rows)*(len(spec.columns)+1))
	argIdx := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j := 0; j < len(spec.columns)+1; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", argIdx)
			argIdx++
		}
		sb.WriteString(")")

		args = append(args, row.Fingerprint)
		args = append(args, row.Columns...)
	}
	sb.WriteString(" ON CONFLICT (fingerprint) DO NOTHING")
	return sb.String(), args
}

func buildFingerprintInsert(queue string, rows []consumer.Row) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO dedup_fingerprints (queue, fingerprint) VALUES ")
	args := make([]any, 0, len(rows)*2)
	argIdx := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d)", argIdx, argIdx+1)
		argIdx += 2
		args = append(args, queue, row.Fingerprint)
	}
	sb.WriteString(" ON CONFLICT (fingerprint) DO NOTHING")
	return sb.String(), args
}

// isTransient classifies a pg error as retryable the way spec §4.6
// describes: connection dropped, deadlock, or timeout. Anything else
// (constraint violation, syntax error, disk full) is persistent.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if ok := asPgError(err, &pgErr); ok {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return true
		}
		return false
	}
	// Connection-level errors (closed pool member, network reset) don't
	// carry a *pgconn.PgError; pgx surfaces them as plain errors.
	return true
}

func asPgError(err error, target **pgconn.PgError) bool {
	for err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok {
			*target = pgErr
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
