package command

import (
	"context"
	"sync"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/model"
)

// FakeStore is an in-memory Store used by command package tests.
type FakeStore struct {
	mu sync.Mutex

	Outbox   []model.OutboxCommand
	Sent     []model.SentCommand
	History  []model.HistoryRow
	nextSent int64
}

// NewFakeStore returns a FakeStore seeded with outbox rows.
func NewFakeStore(outbox ...model.OutboxCommand) *FakeStore {
	return &FakeStore{Outbox: outbox}
}

func (f *FakeStore) ClaimOutboxBatch(ctx context.Context, method model.DeliveryMethod, connected []string, limit int) ([]model.OutboxCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	allowed := make(map[string]bool, len(connected))
	for _, id := range connected {
		allowed[id] = true
	}

	var claimed []model.OutboxCommand
	var remaining []model.OutboxCommand
	for _, row := range f.Outbox {
		if row.Method == method && allowed[row.Identity] && len(claimed) < limit {
			claimed = append(claimed, row)
			continue
		}
		remaining = append(remaining, row)
	}
	f.Outbox = remaining
	return claimed, nil
}

func (f *FakeStore) SweepExpiredOutbox(ctx context.Context, method model.DeliveryMethod, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var expired, remaining []model.OutboxCommand
	for _, row := range f.Outbox {
		if row.Method == method && row.CreatedAt.Before(cutoff) {
			expired = append(expired, row)
		} else {
			remaining = append(remaining, row)
		}
	}
	f.Outbox = remaining

	for _, row := range expired {
		f.History = append(f.History, model.HistoryRow{
			Identity:  row.Identity,
			Direction: model.DirectionOutgoing,
			Payload:   row.Payload,
			Status:    string(model.StatusFailed),
			Method:    row.Method,
		})
	}
	return len(expired), nil
}

func (f *FakeStore) MarkSent(ctx context.Context, cmd model.OutboxCommand, sentAt time.Time) (model.SentCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextSent++
	sent := model.SentCommand{
		ID:        f.nextSent,
		Identity:  cmd.Identity,
		Method:    cmd.Method,
		Payload:   cmd.Payload,
		Status:    model.StatusSent,
		CreatedAt: cmd.CreatedAt,
		SentAt:    sentAt,
	}
	f.Sent = append(f.Sent, sent)
	f.History = append(f.History, model.HistoryRow{
		Identity:  cmd.Identity,
		Direction: model.DirectionOutgoing,
		Payload:   cmd.Payload,
		Status:    string(model.StatusSent),
		Method:    cmd.Method,
		SentAt:    &sentAt,
	})
	return sent, nil
}

func (f *FakeStore) MarkOutboxFailed(ctx context.Context, cmd model.OutboxCommand, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.History = append(f.History, model.HistoryRow{
		Identity:  cmd.Identity,
		Direction: model.DirectionOutgoing,
		Payload:   cmd.Payload,
		Status:    string(model.StatusFailed),
		Method:    cmd.Method,
	})
	return nil
}

func (f *FakeStore) MostRecentSent(ctx context.Context, identity string, method model.DeliveryMethod) (model.SentCommand, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var best *model.SentCommand
	for i := range f.Sent {
		s := &f.Sent[i]
		if s.Identity == identity && s.Method == method && s.Status == model.StatusSent {
			if best == nil || s.SentAt.After(best.SentAt) {
				best = s
			}
		}
	}
	if best == nil {
		return model.SentCommand{}, false, nil
	}
	return *best, true, nil
}

func (f *FakeStore) CompleteSentSuccessful(ctx context.Context, sent model.SentCommand, responseText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	filtered := f.Sent[:0]
	for _, s := range f.Sent {
		if s.ID != sent.ID {
			filtered = append(filtered, s)
		}
	}
	f.Sent = filtered

	for i := range f.History {
		h := &f.History[i]
		if h.Identity == sent.Identity && h.Direction == model.DirectionOutgoing && h.Status == string(model.StatusSent) {
			h.Status = string(model.StatusSuccessful)
		}
	}
	f.History = append(f.History, model.HistoryRow{
		Identity:  sent.Identity,
		Direction: model.DirectionIncoming,
		Payload:   responseText,
		Status:    model.IncomingStatusReceived,
		Method:    sent.Method,
	})
	return nil
}

func (f *FakeStore) RecordUnmatchedIncoming(ctx context.Context, identity, responseText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.History = append(f.History, model.HistoryRow{
		Identity:  identity,
		Direction: model.DirectionIncoming,
		Payload:   responseText,
		Status:    model.IncomingStatusReceived,
	})
	return nil
}

func (f *FakeStore) SweepExpiredSent(ctx context.Context, cutoff time.Time) ([]model.SentCommand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var expired []model.SentCommand
	var remaining []model.SentCommand
	for _, s := range f.Sent {
		if s.SentAt.Before(cutoff) {
			expired = append(expired, s)
		} else {
			remaining = append(remaining, s)
		}
	}
	f.Sent = remaining
	return expired, nil
}

func (f *FakeStore) MarkSentNoReply(ctx context.Context, sent model.SentCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.History {
		h := &f.History[i]
		if h.Identity == sent.Identity && h.Direction == model.DirectionOutgoing && h.Status == string(model.StatusSent) {
			h.Status = string(model.StatusNoReply)
		}
	}
	return nil
}
