package command

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// IdentitySource reports the identities currently reachable over a live
// connection. *table.Table (via Server.ConnectedIdentities) is the
// production implementation; tests supply a plain func literal.
type IdentitySource func() []string

// Poller runs one polling loop per delivery method the Gateway manages
// (spec: model.GatewayManagedMethods, currently just GPRS). Each tick it
// claims a batch of outbox rows scoped to currently-connected devices,
// writes each to its device's live connection, and records the outcome.
type Poller struct {
	store      Store
	sender     Sender
	identities IdentitySource
	method     model.DeliveryMethod
	interval   time.Duration
	batch      int
	metrics    *appmetrics.Metrics
	logger     zerolog.Logger
}

// NewPoller builds a Poller for one delivery method. identities supplies
// the connected-identity set used to scope each claim.
func NewPoller(store Store, sender Sender, identities IdentitySource, method model.DeliveryMethod, interval time.Duration, batch int, metrics *appmetrics.Metrics, logger zerolog.Logger) *Poller {
	return &Poller{
		store:      store,
		sender:     sender,
		identities: identities,
		method:     method,
		interval:   interval,
		batch:      batch,
		metrics:    metrics,
		logger:     logger.With().Str("component", "command_poller").Str("method", string(method)).Logger(),
	}
}

// Run blocks until ctx is canceled, polling at the configured interval.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	connected := p.identities()
	if len(connected) == 0 {
		return
	}

	rows, err := p.store.ClaimOutboxBatch(ctx, p.method, connected, p.batch)
	if err != nil {
		p.logger.Warn().Err(err).Msg("claim outbox batch failed")
		return
	}

	for _, cmd := range rows {
		p.deliver(ctx, cmd)
	}
}

func (p *Poller) deliver(ctx context.Context, cmd model.OutboxCommand) {
	frame := EncodeCommandFrame(cmd.Payload)

	ok, err := p.sender.WriteTo(cmd.Identity, frame)
	if err != nil || !ok {
		reason := "device_offline"
		if err != nil {
			reason = "write_failed"
		}
		if markErr := p.store.MarkOutboxFailed(ctx, cmd, reason); markErr != nil {
			p.logger.Error().Err(markErr).Str("identity", cmd.Identity).Msg("mark outbox failed also failed")
		}
		if p.metrics != nil {
			p.metrics.CommandsFailed.Inc()
		}
		return
	}

	if _, err := p.store.MarkSent(ctx, cmd, time.Now().UTC()); err != nil {
		p.logger.Error().Err(err).Str("identity", cmd.Identity).Msg("mark sent failed after successful write")
		return
	}
	if p.metrics != nil {
		p.metrics.CommandsSent.Inc()
	}
}
