// Package command implements the Gateway's downlink command path: a
// poller that claims outbox rows and writes them to live device sockets,
// a correlator that matches device replies back to the command that
// prompted them, and a sweep that times out commands nobody answered
// (spec §4.4, §4.5). Grounded on the GPRS command poller and Codec 12
// response handler this pipeline replaces: commands are matched by
// identity + delivery method + most-recent "sent" row, not a correlation
// id (spec §9 Open Question ii).
package command

import (
	"context"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/model"
)

// Store is the persistence surface the command path needs. A concrete
// implementation lives in internal/gateway/store over dbx.Pool; tests use
// the in-memory fake in this package.
type Store interface {
	// ClaimOutboxBatch returns up to limit pending outbox rows for method
	// whose identity is in connected, oldest first, and removes them from
	// the outbox in the same transaction (spec §4.4 poller contract steps
	// 1-2: only devices the Gateway can currently reach are claimed, so a
	// momentarily offline device's commands wait for reconnection or the
	// T1 outbox timeout instead of being claimed and immediately failed).
	// An empty connected claims nothing.
	ClaimOutboxBatch(ctx context.Context, method model.DeliveryMethod, connected []string, limit int) ([]model.OutboxCommand, error)

	// SweepExpiredOutbox moves outbox rows for method older than cutoff to
	// command_history with status failed (spec §4.4 T1 outbox timeout),
	// and returns how many rows were swept.
	SweepExpiredOutbox(ctx context.Context, method model.DeliveryMethod, cutoff time.Time) (int, error)

	// MarkSent records a claimed outbox row as sent: inserts into
	// command_sent and appends an "outgoing"/"sent" command_history row.
	MarkSent(ctx context.Context, cmd model.OutboxCommand, sentAt time.Time) (model.SentCommand, error)

	// MarkOutboxFailed appends a "failed" command_history row for an
	// outbox command that could not be delivered (e.g. device offline).
	MarkOutboxFailed(ctx context.Context, cmd model.OutboxCommand, reason string) error

	// MostRecentSent returns the most recently sent, still-unanswered
	// command for identity+method, if any (spec §9 Open Question ii).
	MostRecentSent(ctx context.Context, identity string, method model.DeliveryMethod) (model.SentCommand, bool, error)

	// CompleteSentSuccessful deletes sent from command_sent, flips its
	// command_history row to "successful", and inserts an "incoming"
	// history row carrying responseText.
	CompleteSentSuccessful(ctx context.Context, sent model.SentCommand, responseText string) error

	// RecordUnmatchedIncoming inserts an "incoming"/"received" history row
	// for a device reply that matched no outstanding sent command.
	RecordUnmatchedIncoming(ctx context.Context, identity, responseText string) error

	// SweepExpiredSent returns command_sent rows older than cutoff that
	// never received a reply.
	SweepExpiredSent(ctx context.Context, cutoff time.Time) ([]model.SentCommand, error)

	// MarkSentNoReply deletes sent from command_sent and flips its
	// command_history row to "no_reply".
	MarkSentNoReply(ctx context.Context, sent model.SentCommand) error
}
