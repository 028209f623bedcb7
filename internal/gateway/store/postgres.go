// Package store is the Gateway's pgx-backed implementation of
// command.Store, grounded on the outbox/sent/history schema (spec §6)
// and the delete-on-complete lifecycle of the device response handler
// this pipeline replaces.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetpulse/telemetry-core/internal/dbx"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// CommandStore implements command.Store over a dbx.Pool.
type CommandStore struct {
	db *dbx.Pool
}

// NewCommandStore wraps db as a command.Store.
func NewCommandStore(db *dbx.Pool) *CommandStore {
	return &CommandStore{db: db}
}

func (s *CommandStore) ClaimOutboxBatch(ctx context.Context, method model.DeliveryMethod, connected []string, limit int) ([]model.OutboxCommand, error) {
	if len(connected) == 0 {
		return nil, nil
	}

	var claimed []model.OutboxCommand
	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx, `
			SELECT id, identity, method, payload, config_id, user_id, retry_count, created_at
			FROM command_outbox
			WHERE method = $1 AND identity = ANY($2)
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED`, string(method), connected, limit)
		if err != nil {
			return fmt.Errorf("select outbox batch: %w", err)
		}

		var ids []int64
		for rows.Next() {
			var c model.OutboxCommand
			var methodStr string
			if err := rows.Scan(&c.ID, &c.Identity, &methodStr, &c.Payload, &c.ConfigID, &c.UserID, &c.RetryCount, &c.CreatedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox row: %w", err)
			}
			c.Method = model.DeliveryMethod(methodStr)
			claimed = append(claimed, c)
			ids = append(ids, c.ID)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate outbox rows: %w", err)
		}

		if len(ids) > 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM command_outbox WHERE id = ANY($1)`, ids); err != nil {
				return fmt.Errorf("delete claimed outbox rows: %w", err)
			}
		}
		return tx.Commit(ctx)
	})
	return claimed, err
}

func (s *CommandStore) MarkSent(ctx context.Context, cmd model.OutboxCommand, sentAt time.Time) (model.SentCommand, error) {
	sent := model.SentCommand{
		Identity: cmd.Identity, Method: cmd.Method, Payload: cmd.Payload,
		Status: model.StatusSent, CreatedAt: cmd.CreatedAt, SentAt: sentAt,
	}
	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		row := tx.QueryRow(ctx, `
			INSERT INTO command_sent (identity, method, payload, status, created_at, sent_at)
			VALUES ($1, $2, $3, 'sent', $4, $5)
			RETURNING id`,
			cmd.Identity, string(cmd.Method), cmd.Payload, cmd.CreatedAt, sentAt)
		if err := row.Scan(&sent.ID); err != nil {
			return fmt.Errorf("insert command_sent: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO command_history (identity, direction, payload, status, method, created_at, sent_at, archived_at)
			VALUES ($1, 'outgoing', $2, 'sent', $3, $4, $5, now())`,
			cmd.Identity, cmd.Payload, string(cmd.Method), cmd.CreatedAt, sentAt); err != nil {
			return fmt.Errorf("insert command_history: %w", err)
		}
		return tx.Commit(ctx)
	})
	return sent, err
}

func (s *CommandStore) MarkOutboxFailed(ctx context.Context, cmd model.OutboxCommand, reason string) error {
	return s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			INSERT INTO command_history (identity, direction, payload, status, method, created_at, archived_at)
			VALUES ($1, 'outgoing', $2, 'failed', $3, now(), now())`,
			cmd.Identity, cmd.Payload, string(cmd.Method))
		return err
	})
}

func (s *CommandStore) MostRecentSent(ctx context.Context, identity string, method model.DeliveryMethod) (model.SentCommand, bool, error) {
	var sent model.SentCommand
	var found bool
	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		row := pool.QueryRow(ctx, `
			SELECT id, identity, method, payload, status, created_at, sent_at
			FROM command_sent
			WHERE identity = $1 AND method = $2 AND status = 'sent'
			ORDER BY sent_at DESC
			LIMIT 1`, identity, string(method))
		var methodStr, statusStr string
		err := row.Scan(&sent.ID, &sent.Identity, &methodStr, &sent.Payload, &statusStr, &sent.CreatedAt, &sent.SentAt)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		sent.Method = model.DeliveryMethod(methodStr)
		sent.Status = model.CommandStatus(statusStr)
		found = true
		return nil
	})
	return sent, found, err
}

func (s *CommandStore) CompleteSentSuccessful(ctx context.Context, sent model.SentCommand, responseText string) error {
	return s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM command_sent WHERE id = $1`, sent.ID); err != nil {
			return fmt.Errorf("delete command_sent: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE command_history SET status = 'successful'
			WHERE identity = $1 AND direction = 'outgoing' AND payload = $2 AND method = $3 AND status = 'sent'`,
			sent.Identity, sent.Payload, string(sent.Method)); err != nil {
			return fmt.Errorf("flip history row: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO command_history (identity, direction, payload, status, method, created_at, archived_at)
			VALUES ($1, 'incoming', $2, 'received', $3, now(), now())`,
			sent.Identity, responseText, string(sent.Method)); err != nil {
			return fmt.Errorf("insert incoming history row: %w", err)
		}
		return tx.Commit(ctx)
	})
}

func (s *CommandStore) RecordUnmatchedIncoming(ctx context.Context, identity, responseText string) error {
	return s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, `
			INSERT INTO command_history (identity, direction, payload, status, created_at, archived_at)
			VALUES ($1, 'incoming', $2, 'received', now(), now())`,
			identity, responseText)
		return err
	})
}

func (s *CommandStore) SweepExpiredSent(ctx context.Context, cutoff time.Time) ([]model.SentCommand, error) {
	var expired []model.SentCommand
	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, `
			SELECT id, identity, method, payload, status, created_at, sent_at
			FROM command_sent
			WHERE status = 'sent' AND sent_at < $1`, cutoff)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var sent model.SentCommand
			var methodStr, statusStr string
			if err := rows.Scan(&sent.ID, &sent.Identity, &methodStr, &sent.Payload, &statusStr, &sent.CreatedAt, &sent.SentAt); err != nil {
				return err
			}
			sent.Method = model.DeliveryMethod(methodStr)
			sent.Status = model.CommandStatus(statusStr)
			expired = append(expired, sent)
		}
		return rows.Err()
	})
	return expired, err
}

// SweepExpiredOutbox moves command_outbox rows for method older than
// cutoff to command_history with status failed (spec §4.4 T1 timeout):
// a command nobody claimed in time, typically because the device never
// reconnected, doesn't sit in the outbox forever.
func (s *CommandStore) SweepExpiredOutbox(ctx context.Context, method model.DeliveryMethod, cutoff time.Time) (int, error) {
	var swept int
	err := s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx, `
			SELECT id, identity, payload
			FROM command_outbox
			WHERE method = $1 AND created_at < $2
			FOR UPDATE SKIP LOCKED`, string(method), cutoff)
		if err != nil {
			return fmt.Errorf("select expired outbox rows: %w", err)
		}

		type expiredRow struct {
			id       int64
			identity string
			payload  string
		}
		var expired []expiredRow
		for rows.Next() {
			var r expiredRow
			if err := rows.Scan(&r.id, &r.identity, &r.payload); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired outbox row: %w", err)
			}
			expired = append(expired, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate expired outbox rows: %w", err)
		}

		for _, r := range expired {
			if _, err := tx.Exec(ctx, `
				INSERT INTO command_history (identity, direction, payload, status, method, created_at, archived_at)
				VALUES ($1, 'outgoing', $2, 'failed', $3, now(), now())`,
				r.identity, r.payload, string(method)); err != nil {
				return fmt.Errorf("insert expired outbox history row: %w", err)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM command_outbox WHERE id = $1`, r.id); err != nil {
				return fmt.Errorf("delete expired outbox row: %w", err)
			}
		}
		swept = len(expired)
		return tx.Commit(ctx)
	})
	return swept, err
}

func (s *CommandStore) MarkSentNoReply(ctx context.Context, sent model.SentCommand) error {
	return s.db.Do(ctx, func(ctx context.Context, pool *pgxpool.Pool) error {
		tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM command_sent WHERE id = $1`, sent.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE command_history SET status = 'no_reply'
			WHERE identity = $1 AND direction = 'outgoing' AND payload = $2 AND method = $3 AND status = 'sent'`,
			sent.Identity, sent.Payload, string(sent.Method)); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}
