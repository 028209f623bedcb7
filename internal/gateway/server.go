// Package gateway wires the connection table, wire protocol, publisher,
// and command path into one TCP accept loop (spec §4.2). One goroutine
// per connection reads frames and hands them to the decoder; no
// suspension point is reached while the connection-table mutex is held
// (spec §4.8), grounded on the accept-loop/listener shutdown shape this
// pipeline's teacher uses for its own TCP server.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/appmetrics"
	"github.com/fleetpulse/telemetry-core/internal/breaker"
	"github.com/fleetpulse/telemetry-core/internal/config"
	"github.com/fleetpulse/telemetry-core/internal/gateway/command"
	"github.com/fleetpulse/telemetry-core/internal/gateway/protocol"
	"github.com/fleetpulse/telemetry-core/internal/gateway/publish"
	"github.com/fleetpulse/telemetry-core/internal/gateway/table"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// Server is the Gateway's TCP ingest server.
type Server struct {
	cfg       *config.Atomic
	table     *table.Table
	publisher *publish.Publisher
	correlate *command.Correlator
	guard     *ConnectionGuard
	metrics   *appmetrics.Metrics
	breaker   *breaker.Breaker
	logger    zerolog.Logger

	listener net.Listener
	wg       sync.WaitGroup

	shuttingDown atomic.Bool
}

// New builds a Server. cfg is read on every connection so a config
// reload takes effect for new connections without a restart.
func New(cfg *config.Atomic, pub *publish.Publisher, correlate *command.Correlator, guard *ConnectionGuard, brk *breaker.Breaker, metrics *appmetrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		table:     table.New(),
		publisher: pub,
		correlate: correlate,
		guard:     guard,
		breaker:   brk,
		metrics:   metrics,
		logger:    logger.With().Str("component", "gateway_server").Logger(),
	}
}

// Table exposes the connection table for the command Sender adapter and
// the idle-sweep loop.
func (s *Server) Table() *table.Table { return s.table }

// ConnectedIdentities implements command.IdentitySource by returning the
// identities currently bound to a live connection.
func (s *Server) ConnectedIdentities() []string { return s.table.Identities() }

// Start binds the listener and begins accepting connections. It returns
// once the listener is bound; the accept loop runs in the background.
func (s *Server) Start() error {
	gw := s.cfg.Load().Gateway
	addr := fmt.Sprintf("%s:%d", gw.BindIP, gw.Port)

	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", addr).Msg("gateway listening")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown.Load() {
				return
			}
			s.logger.Warn().Err(err).Msg("accept error")
			continue
		}

		gw := s.cfg.Load().Gateway
		if s.table.Len() >= gw.MaxConcurrentConns {
			s.logger.Warn().Int("limit", gw.MaxConcurrentConns).Msg("rejecting connection: at capacity")
			conn.Close()
			continue
		}

		if s.guard != nil {
			ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
			if err != nil {
				ip = conn.RemoteAddr().String()
			}
			if !s.guard.Allow(ip) {
				conn.Close()
				continue
			}
		}

		if s.metrics != nil {
			s.metrics.ConnectionsTotal.Inc()
			s.metrics.ConnectionsActive.Set(float64(s.table.Len() + 1))
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	rec := s.table.RegisterAnonymous(conn)
	defer func() {
		s.table.Remove(rec)
		if s.metrics != nil {
			s.metrics.ConnectionsActive.Set(float64(s.table.Len()))
		}
	}()

	logger := s.logger.With().Str("remote_addr", rec.RemoteAddr).Logger()

	identity, err := protocol.ReadIdentity(conn)
	if err != nil {
		logger.Debug().Err(err).Msg("identity handshake failed")
		return
	}
	if err := model.ValidateIdentity(identity); err != nil {
		conn.Write(protocol.EncodeIdentityAck(false))
		logger.Warn().Str("identity", identity).Err(err).Msg("rejected invalid identity")
		return
	}
	if _, err := conn.Write(protocol.EncodeIdentityAck(true)); err != nil {
		logger.Debug().Err(err).Msg("failed to write identity ack")
		return
	}
	if evicted := s.table.Bind(rec, identity); evicted != nil {
		evicted.Close()
	}
	logger = logger.With().Str("identity", identity).Logger()

	for {
		gw := s.cfg.Load().Gateway
		if gw.ReadIdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(gw.ReadIdleTimeout))
		}

		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug().Err(err).Msg("connection closed")
			}
			return
		}
		s.table.Touch(rec)

		if frame.KeepAlive {
			continue
		}

		if err := s.handleFrame(context.Background(), rec, frame); err != nil {
			logger.Warn().Err(err).Uint8("codec", frame.CodecID).Msg("frame handling failed")
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, rec *table.Record, frame protocol.Frame) error {
	switch frame.CodecID {
	case protocol.CodecID8:
		return s.handleTelemetryFrame(ctx, rec, frame)
	case protocol.CodecID12Commands:
		return s.handleCommandFrame(ctx, rec, frame)
	default:
		return fmt.Errorf("gateway: unsupported codec id %#x", frame.CodecID)
	}
}

func (s *Server) handleTelemetryFrame(ctx context.Context, rec *table.Record, frame protocol.Frame) error {
	if rec.Identity == "" {
		return fmt.Errorf("gateway: telemetry frame before identity handshake")
	}

	gw := s.cfg.Load().Gateway
	offset := time.Duration(gw.DeviceTZOffsetMinutes) * time.Minute

	records, err := protocol.DecodeCodec8(rec.Identity, frame.Body, offset)
	if err != nil {
		return fmt.Errorf("decode codec8: %w", err)
	}

	for _, rec := range records {
		if !rec.Position.HasFix() {
			continue
		}
		if err := s.publisher.PublishTelemetry(ctx, rec); err != nil {
			if s.metrics != nil {
				s.metrics.BackpressureOn.Set(1)
			}
			return fmt.Errorf("publish telemetry: %w", err)
		}
		if s.metrics != nil {
			s.metrics.BackpressureOn.Set(0)
		}
	}
	return nil
}

func (s *Server) handleCommandFrame(ctx context.Context, rec *table.Record, frame protocol.Frame) error {
	resp, err := protocol.DecodeCommand(frame.Body)
	if err != nil {
		return fmt.Errorf("decode codec12: %w", err)
	}
	if rec.Identity == "" {
		return fmt.Errorf("gateway: command frame before identity established")
	}
	s.correlate.HandleResponse(ctx, rec.Identity, resp)
	return nil
}

// WriteTo implements command.Sender by looking up identity in the
// connection table and writing frame to its live connection.
func (s *Server) WriteTo(identity string, frame []byte) (bool, error) {
	rec, ok := s.table.Lookup(identity)
	if !ok {
		return false, nil
	}
	if _, err := rec.Conn.Write(frame); err != nil {
		return false, err
	}
	return true, nil
}

// SweepIdle runs one idle-connection sweep pass, closing every connection
// that's been silent longer than the configured idle timeout.
func (s *Server) SweepIdle() {
	if s.guard != nil {
		s.guard.Sweep()
	}

	gw := s.cfg.Load().Gateway
	idle := s.table.Sweep(gw.IdleTimeout)
	for _, conn := range idle {
		conn.Close()
	}
	if len(idle) > 0 {
		s.logger.Info().Int("count", len(idle)).Msg("swept idle connections")
	}
}

// Shutdown stops accepting new connections, waits up to drainTimeout for
// in-flight frames to finish, then force-closes everything still open.
func (s *Server) Shutdown(ctx context.Context, drainTimeout time.Duration) error {
	s.shuttingDown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		s.logger.Warn().Msg("drain timeout exceeded, force-closing remaining connections")
		for _, conn := range s.table.CloseAll() {
			conn.Close()
		}
		<-done
	}
	return nil
}
