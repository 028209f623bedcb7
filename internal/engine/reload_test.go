package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/telemetry-core/internal/engine/recalc"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

type versionedCalculator struct {
	name    string
	version int
}

func (c versionedCalculator) Name() string { return c.name }
func (c versionedCalculator) Version() int { return c.version }
func (c versionedCalculator) Evaluate(state *DeviceState, rec model.Telemetry, cfg DeviceConfig) Result {
	return Result{}
}

func TestReloadHandlerRegistrySwapIsVisibleImmediately(t *testing.T) {
	builds := 0
	build := func() *Registry {
		builds++
		return NewRegistry(versionedCalculator{name: "speeding", version: builds})
	}
	store := recalc.NewFakeStore()
	handler := NewReloadHandler(build, store, zerolog.Nop())

	assert.Equal(t, 1, handler.Registry().Versions()["speeding"])

	handler.reload(context.Background())

	assert.Equal(t, 2, handler.Registry().Versions()["speeding"], "reload should swap in the freshly built registry")
}

func TestReloadHandlerEnqueuesRecomputeOnVersionChange(t *testing.T) {
	builds := 0
	build := func() *Registry {
		builds++
		return NewRegistry(versionedCalculator{name: "speeding", version: builds})
	}
	store := recalc.NewFakeStore()
	handler := NewReloadHandler(build, store, zerolog.Nop())

	handler.reload(context.Background())

	jobs := store.Snapshot()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.JobRecomputeViolations, jobs[0].Kind)
	assert.Equal(t, model.TriggerFormulaVersionChange, jobs[0].Trigger)
	assert.Contains(t, jobs[0].Reason, "speeding")
}

func TestReloadHandlerSkipsEnqueueWhenVersionsUnchanged(t *testing.T) {
	build := func() *Registry {
		return NewRegistry(versionedCalculator{name: "speeding", version: 1})
	}
	store := recalc.NewFakeStore()
	handler := NewReloadHandler(build, store, zerolog.Nop())

	handler.reload(context.Background())

	assert.Empty(t, store.Snapshot())
}

func TestReloadHandlerEnqueuesOnlyForChangedCalculators(t *testing.T) {
	builds := 0
	build := func() *Registry {
		builds++
		idleVersion := 1
		return NewRegistry(
			versionedCalculator{name: "speeding", version: builds},
			versionedCalculator{name: "idle", version: idleVersion},
		)
	}
	store := recalc.NewFakeStore()
	handler := NewReloadHandler(build, store, zerolog.Nop())

	handler.reload(context.Background())

	jobs := store.Snapshot()
	require.Len(t, jobs, 1, "only the calculator whose version changed should enqueue a recompute job")
	assert.Contains(t, jobs[0].Reason, "speeding")
}
