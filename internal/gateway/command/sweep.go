package command

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// Sweeper periodically expires two kinds of stuck commands: command_sent
// rows that received no reply within the reply timeout (T2, spec §4.5),
// and command_outbox rows nobody claimed within the outbox timeout (T1,
// spec §4.4) — both move to command_history with a terminal status.
type Sweeper struct {
	store         Store
	method        model.DeliveryMethod
	outboxTimeout time.Duration
	replyTimeout  time.Duration
	interval      time.Duration
	metrics       *appmetrics.Metrics
	logger        zerolog.Logger
}

// NewSweeper builds a Sweeper. method scopes the outbox sweep to the
// delivery method the Gateway's poller claims for (spec: currently just
// GPRS, per model.GatewayManagedMethods).
func NewSweeper(store Store, method model.DeliveryMethod, outboxTimeout, replyTimeout, interval time.Duration, metrics *appmetrics.Metrics, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:         store,
		method:        method,
		outboxTimeout: outboxTimeout,
		replyTimeout:  replyTimeout,
		interval:      interval,
		metrics:       metrics,
		logger:        logger.With().Str("component", "command_sweeper").Logger(),
	}
}

// Run blocks until ctx is canceled, sweeping at the configured interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	s.sweepExpiredSent(ctx)
	s.sweepExpiredOutbox(ctx)
}

func (s *Sweeper) sweepExpiredSent(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.replyTimeout)
	expired, err := s.store.SweepExpiredSent(ctx, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("sweep expired sent commands failed")
		return
	}

	for _, sent := range expired {
		if err := s.store.MarkSentNoReply(ctx, sent); err != nil {
			s.logger.Error().Err(err).Int64("sent_id", sent.ID).Msg("mark no_reply failed")
			continue
		}
		if s.metrics != nil {
			s.metrics.CommandsNoReply.Inc()
		}
	}
}

// sweepExpiredOutbox enforces the T1 outbox timeout: an outbox row the
// poller never claimed (device stayed offline) doesn't wait forever for
// a reconnection that may never come.
func (s *Sweeper) sweepExpiredOutbox(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.outboxTimeout)
	n, err := s.store.SweepExpiredOutbox(ctx, s.method, cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("sweep expired outbox commands failed")
		return
	}
	if n > 0 && s.metrics != nil {
		s.metrics.CommandsFailed.Add(float64(n))
	}
}
