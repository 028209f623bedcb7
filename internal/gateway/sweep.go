package gateway

import (
	"context"
	"time"
)

// RunIdleSweep blocks until ctx is canceled, sweeping idle connections at
// the configured interval (spec §4.2).
func (s *Server) RunIdleSweep(ctx context.Context) {
	gw := s.cfg.Load().Gateway
	ticker := time.NewTicker(gw.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepIdle()
		}
	}
}
