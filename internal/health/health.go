// Package health implements the two synchronous endpoints every service
// exposes (spec §6): liveness (always 200 once the process is serving)
// and readiness (200 only when every registered dependency reports
// reachable, 503 otherwise).
package health

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Checker reports whether a dependency is currently reachable. Circuit
// breakers and DB/broker clients implement it.
type Checker func() bool

// Server serves /livez and /readyz over HTTP.
type Server struct {
	mu       sync.RWMutex
	checks   map[string]Checker
	gauge    prometheus.Gauge
}

// New builds a health Server. gauge, if non-nil, is set to 1/0 on every
// readiness probe so the Prometheus endpoint and the HTTP endpoint agree.
func New(gauge prometheus.Gauge) *Server {
	return &Server{checks: make(map[string]Checker), gauge: gauge}
}

// Register adds a named dependency check. Registering under an existing
// name replaces it.
func (s *Server) Register(name string, check Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Handler returns an http.Handler serving /livez and /readyz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", s.handleLive)
	mux.HandleFunc("/readyz", s.handleReady)
	return mux
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := make(map[string]Checker, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	s.mu.RUnlock()

	ready := true
	for _, check := range checks {
		if !check() {
			ready = false
			break
		}
	}

	if s.gauge != nil {
		if ready {
			s.gauge.Set(1)
		} else {
			s.gauge.Set(0)
		}
	}

	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
