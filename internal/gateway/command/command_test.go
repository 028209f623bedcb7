package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/gateway/protocol"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

type fakeSender struct {
	mu      sync.Mutex
	written map[string][]byte
	offline map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{written: make(map[string][]byte), offline: make(map[string]bool)}
}

func (f *fakeSender) WriteTo(identity string, frame []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline[identity] {
		return false, nil
	}
	f.written[identity] = frame
	return true, nil
}

func TestPollerDeliversAndMarksSent(t *testing.T) {
	store := NewFakeStore(model.OutboxCommand{ID: 1, Identity: "356938035643809", Method: model.DeliveryGPRS, Payload: "getinfo"})
	sender := newFakeSender()
	connected := func() []string { return []string{"356938035643809"} }
	poller := NewPoller(store, sender, connected, model.DeliveryGPRS, time.Hour, 10, nil, zerolog.Nop())

	poller.pollOnce(context.Background())

	if _, ok := sender.written["356938035643809"]; !ok {
		t.Fatal("expected command written to device connection")
	}
	if len(store.Sent) != 1 {
		t.Fatalf("len(Sent) = %d, want 1", len(store.Sent))
	}
	if len(store.Outbox) != 0 {
		t.Fatalf("expected outbox row claimed, len = %d", len(store.Outbox))
	}
}

func TestPollerMarksFailedWhenDeviceOffline(t *testing.T) {
	store := NewFakeStore(model.OutboxCommand{ID: 1, Identity: "356938035643809", Method: model.DeliveryGPRS, Payload: "getinfo"})
	sender := newFakeSender()
	sender.offline["356938035643809"] = true
	connected := func() []string { return []string{"356938035643809"} }
	poller := NewPoller(store, sender, connected, model.DeliveryGPRS, time.Hour, 10, nil, zerolog.Nop())

	poller.pollOnce(context.Background())

	if len(store.Sent) != 0 {
		t.Fatalf("expected no sent rows, got %d", len(store.Sent))
	}
	if len(store.History) != 1 || store.History[0].Status != string(model.StatusFailed) {
		t.Fatalf("expected one failed history row, got %+v", store.History)
	}
}

func TestCorrelatorMatchesMostRecentSent(t *testing.T) {
	store := NewFakeStore()
	sentAt := time.Now().UTC()
	store.Sent = append(store.Sent,
		model.SentCommand{ID: 1, Identity: "356938035643809", Method: model.DeliveryGPRS, Status: model.StatusSent, SentAt: sentAt.Add(-time.Minute)},
		model.SentCommand{ID: 2, Identity: "356938035643809", Method: model.DeliveryGPRS, Status: model.StatusSent, SentAt: sentAt},
	)
	store.History = append(store.History,
		model.HistoryRow{Identity: "356938035643809", Direction: model.DirectionOutgoing, Status: string(model.StatusSent), Method: model.DeliveryGPRS},
	)

	corr := NewCorrelator(store, nil, zerolog.Nop())
	corr.HandleResponse(context.Background(), "356938035643809", protocol.CommandResponse{IsResponse: true, Text: "OK"})

	if len(store.Sent) != 1 {
		t.Fatalf("expected one sent row consumed, remaining %d", len(store.Sent))
	}
	if store.Sent[0].ID != 1 {
		t.Fatalf("expected the older sent row (ID=1) to remain, kept %d", store.Sent[0].ID)
	}
}

func TestCorrelatorRecordsUnmatchedResponse(t *testing.T) {
	store := NewFakeStore()
	corr := NewCorrelator(store, nil, zerolog.Nop())
	corr.HandleResponse(context.Background(), "356938035643809", protocol.CommandResponse{IsResponse: true, Text: "unsolicited"})

	if len(store.History) != 1 || store.History[0].Status != model.IncomingStatusReceived {
		t.Fatalf("expected one unmatched incoming history row, got %+v", store.History)
	}
}

func TestCorrelatorIgnoresCommandEchoes(t *testing.T) {
	store := NewFakeStore()
	corr := NewCorrelator(store, nil, zerolog.Nop())
	corr.HandleResponse(context.Background(), "356938035643809", protocol.CommandResponse{IsResponse: false, Text: "echo"})

	if len(store.History) != 0 {
		t.Fatalf("expected no history rows for a command echo, got %+v", store.History)
	}
}

func TestSweeperExpiresUnansweredSentCommands(t *testing.T) {
	store := NewFakeStore()
	store.Sent = append(store.Sent, model.SentCommand{
		ID: 1, Identity: "356938035643809", Method: model.DeliveryGPRS,
		Status: model.StatusSent, SentAt: time.Now().UTC().Add(-time.Hour),
	})
	store.History = append(store.History, model.HistoryRow{
		Identity: "356938035643809", Direction: model.DirectionOutgoing, Status: string(model.StatusSent), Method: model.DeliveryGPRS,
	})

	sweeper := NewSweeper(store, model.DeliveryGPRS, time.Minute, time.Minute, time.Hour, nil, zerolog.Nop())
	sweeper.sweepOnce(context.Background())

	if len(store.Sent) != 0 {
		t.Fatalf("expected expired sent row removed, got %d", len(store.Sent))
	}
	if store.History[0].Status != string(model.StatusNoReply) {
		t.Fatalf("expected history row flipped to no_reply, got %q", store.History[0].Status)
	}
}

func TestPollerSkipsOutboxRowsForDisconnectedIdentities(t *testing.T) {
	store := NewFakeStore(model.OutboxCommand{ID: 1, Identity: "356938035643809", Method: model.DeliveryGPRS, Payload: "getinfo"})
	sender := newFakeSender()
	noneConnected := func() []string { return nil }
	poller := NewPoller(store, sender, noneConnected, model.DeliveryGPRS, time.Hour, 10, nil, zerolog.Nop())

	poller.pollOnce(context.Background())

	if _, ok := sender.written["356938035643809"]; ok {
		t.Fatal("expected no command written for a disconnected identity")
	}
	if len(store.Outbox) != 1 {
		t.Fatalf("expected the outbox row to remain unclaimed, len = %d", len(store.Outbox))
	}
}

func TestSweeperExpiresStaleOutboxCommands(t *testing.T) {
	store := NewFakeStore(model.OutboxCommand{
		ID: 1, Identity: "356938035643809", Method: model.DeliveryGPRS, Payload: "getinfo",
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	})

	sweeper := NewSweeper(store, model.DeliveryGPRS, time.Minute, time.Hour, time.Hour, nil, zerolog.Nop())
	sweeper.sweepOnce(context.Background())

	if len(store.Outbox) != 0 {
		t.Fatalf("expected stale outbox row removed, got %d", len(store.Outbox))
	}
	if len(store.History) != 1 || store.History[0].Status != string(model.StatusFailed) {
		t.Fatalf("expected one failed history row, got %+v", store.History)
	}
}
