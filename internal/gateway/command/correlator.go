package command

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/gateway/protocol"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// Correlator matches an incoming Codec 12 response frame to the command
// that prompted it. Ownership of the match key (identity + delivery
// method, most recent "sent" row) mirrors the device-side response
// handler this replaces — there is no correlation id on the wire.
type Correlator struct {
	store   Store
	metrics *appmetrics.Metrics
	logger  zerolog.Logger
}

// NewCorrelator builds a Correlator.
func NewCorrelator(store Store, metrics *appmetrics.Metrics, logger zerolog.Logger) *Correlator {
	return &Correlator{store: store, metrics: metrics, logger: logger.With().Str("component", "command_correlator").Logger()}
}

// HandleResponse processes one decoded Codec 12 frame body from identity.
// Command echoes (Type=0x05) are ignored; only Type=0x06 responses are
// matched against outstanding sent commands.
func (c *Correlator) HandleResponse(ctx context.Context, identity string, resp protocol.CommandResponse) {
	if !resp.IsResponse {
		return
	}

	sent, ok, err := c.store.MostRecentSent(ctx, identity, model.DeliveryGPRS)
	if err != nil {
		c.logger.Error().Err(err).Str("identity", identity).Msg("lookup most recent sent command failed")
		return
	}
	if !ok {
		if err := c.store.RecordUnmatchedIncoming(ctx, identity, resp.Text); err != nil {
			c.logger.Error().Err(err).Str("identity", identity).Msg("record unmatched incoming response failed")
		}
		return
	}

	if err := c.store.CompleteSentSuccessful(ctx, sent, resp.Text); err != nil {
		c.logger.Error().Err(err).Str("identity", identity).Int64("sent_id", sent.ID).Msg("complete sent command failed")
		return
	}
	if c.metrics != nil {
		c.metrics.CommandsSuccessful.Inc()
	}
}
