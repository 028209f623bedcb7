package model

import "time"

// DeliveryMethod is the closed enumeration of ways a command can reach a
// device. The Gateway's poller only ever claims Gprs rows (spec §4.4);
// the other methods exist so the per-method poller loop is genuinely
// driven by a set, not hard-coded to a single branch (SPEC_FULL.md
// Supplemented Features).
type DeliveryMethod string

const (
	DeliveryGPRS      DeliveryMethod = "gprs"
	DeliverySMS       DeliveryMethod = "sms"
	DeliverySatellite DeliveryMethod = "satellite"
)

// GatewayManagedMethods lists the delivery methods the Gateway operates a
// poller for. SMS and satellite delivery are handled by external
// collaborators (spec §1 out-of-scope glue).
var GatewayManagedMethods = []DeliveryMethod{DeliveryGPRS}

// CommandStatus is the command lifecycle tag of spec §3:
// outbox -> sent -> (successful | no_reply | failed).
type CommandStatus string

const (
	StatusSent       CommandStatus = "sent"
	StatusSuccessful CommandStatus = "successful"
	StatusNoReply    CommandStatus = "no_reply"
	StatusFailed     CommandStatus = "failed"
)

// OutboxCommand is a row read from command_outbox (spec §6).
type OutboxCommand struct {
	ID         int64
	Identity   string
	Method     DeliveryMethod
	Payload    string
	ConfigID   *int64
	UserID     *int64
	RetryCount int
	CreatedAt  time.Time
}

// SentCommand is a row in command_sent: a command written to a device
// socket, awaiting either a matched reply or a timeout sweep.
type SentCommand struct {
	ID        int64
	Identity  string
	Method    DeliveryMethod
	Payload   string
	Status    CommandStatus
	CreatedAt time.Time
	SentAt    time.Time
	Error     string
}

// HistoryDirection distinguishes outgoing commands from incoming replies
// in command_history.
type HistoryDirection string

const (
	DirectionOutgoing HistoryDirection = "outgoing"
	DirectionIncoming HistoryDirection = "incoming"
)

// IncomingStatus is the terminal status recorded for an incoming history
// row. "received" marks an unsolicited or unmatched device message — this
// is expected behavior, not an error (spec §4.5).
const IncomingStatusReceived = "received"

// HistoryRow is a row in command_history: the terminal record of either a
// device-bound command or a device-originated reply.
type HistoryRow struct {
	ID         int64
	Identity   string
	Direction  HistoryDirection
	Payload    string
	Status     string
	Method     DeliveryMethod
	CreatedAt  time.Time
	SentAt     *time.Time
	ArchivedAt time.Time
}
