package engine

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/telemetry-core/internal/engine/recalc"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// CatalogBuilder constructs the current calculator Registry, e.g. by
// reading formula configuration from the database or a config file.
// Reload calls it fresh on every SIGHUP so a running process picks up
// calculator version bumps without a process restart.
type CatalogBuilder func() *Registry

// ReloadHandler watches for SIGHUP and swaps the Pipeline's active
// Registry, enqueueing a recompute_violations job when any calculator's
// version changed (spec §4.7 "Formula version").
type ReloadHandler struct {
	build CatalogBuilder
	store recalc.Store
	live  atomic.Pointer[Registry]

	logger zerolog.Logger
}

// NewReloadHandler builds a ReloadHandler seeded with the registry build
// currently produces.
func NewReloadHandler(build CatalogBuilder, store recalc.Store, logger zerolog.Logger) *ReloadHandler {
	h := &ReloadHandler{build: build, store: store, logger: logger}
	h.live.Store(build())
	return h
}

// Registry returns the currently active calculator catalog.
func (h *ReloadHandler) Registry() *Registry {
	return h.live.Load()
}

// Run blocks until ctx is canceled, reloading the catalog on every
// SIGHUP delivered to the process.
func (h *ReloadHandler) Run(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			h.reload(ctx)
		}
	}
}

func (h *ReloadHandler) reload(ctx context.Context) {
	previous := h.live.Load()
	next := h.build()

	changed := versionsChanged(previous.Versions(), next.Versions())
	h.live.Store(next)
	h.logger.Info().Int("calculators", len(next.Calculators())).Msg("engine: catalog reloaded")

	if len(changed) == 0 {
		return
	}

	for _, name := range changed {
		id, err := recalc.Enqueue(ctx, h.store, model.JobRecomputeViolations, model.TriggerFormulaVersionChange,
			model.JobScope{}, "formula_version_change:"+name, 1)
		if err != nil {
			h.logger.Error().Err(err).Str("calculator", name).Msg("engine: failed to enqueue formula_version_change recompute")
			continue
		}
		h.logger.Info().Int64("job_id", id).Str("calculator", name).Msg("engine: enqueued recompute_violations for changed formula")
	}
}

func versionsChanged(before, after map[string]int) []string {
	var changed []string
	for name, v := range after {
		if before[name] != v {
			changed = append(changed, name)
		}
	}
	return changed
}
