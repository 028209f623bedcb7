package calculators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/telemetry-core/internal/engine"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

func idleTelemetryAt(ignition bool, speed uint16, when time.Time) model.Telemetry {
	rec := telemetryAt(speed, when)
	rec.Ignition = ignition
	return rec
}

func TestIdleSkipsWithoutConfiguredThreshold(t *testing.T) {
	calc := Idle{}
	state := engine.NewStateStore().Get("356938035643809")
	result := calc.Evaluate(state, idleTelemetryAt(true, 0, time.Now()), engine.DeviceConfig{})
	assert.Empty(t, result.Violations)
}

func TestIdleDoesNotRaiseBeforeThresholdElapses(t *testing.T) {
	calc := Idle{}
	state := engine.NewStateStore().Get("356938035643809")
	cfg := engine.DeviceConfig{IdleThreshold: time.Minute}
	start := time.Now()

	calc.Evaluate(state, idleTelemetryAt(true, 0, start), cfg)
	result := calc.Evaluate(state, idleTelemetryAt(true, 0, start.Add(30*time.Second)), cfg)

	assert.Empty(t, result.Violations)
}

func TestIdleRaisesWarningAfterThresholdElapses(t *testing.T) {
	calc := Idle{}
	state := engine.NewStateStore().Get("356938035643809")
	cfg := engine.DeviceConfig{IdleThreshold: time.Minute}
	start := time.Now()

	calc.Evaluate(state, idleTelemetryAt(true, 0, start), cfg)
	result := calc.Evaluate(state, idleTelemetryAt(true, 0, start.Add(61*time.Second)), cfg)

	require.Len(t, result.Violations, 1)
	assert.Equal(t, model.SeverityWarning, result.Violations[0].Severity)
	assert.Equal(t, "excessive_idle", result.Violations[0].Kind)
}

func TestIdleDoesNotReRaiseWithinSameThresholdWindow(t *testing.T) {
	calc := Idle{}
	state := engine.NewStateStore().Get("356938035643809")
	cfg := engine.DeviceConfig{IdleThreshold: time.Minute}
	start := time.Now()

	calc.Evaluate(state, idleTelemetryAt(true, 0, start), cfg)
	calc.Evaluate(state, idleTelemetryAt(true, 0, start.Add(61*time.Second)), cfg)
	result := calc.Evaluate(state, idleTelemetryAt(true, 0, start.Add(90*time.Second)), cfg)

	assert.Empty(t, result.Violations)
}

func TestIdleResetsWhenVehicleMovesOrIgnitionOff(t *testing.T) {
	calc := Idle{}
	state := engine.NewStateStore().Get("356938035643809")
	cfg := engine.DeviceConfig{IdleThreshold: time.Minute}
	start := time.Now()

	calc.Evaluate(state, idleTelemetryAt(true, 0, start), cfg)
	calc.Evaluate(state, idleTelemetryAt(true, 30, start.Add(10*time.Second)), cfg)
	result := calc.Evaluate(state, idleTelemetryAt(true, 0, start.Add(65*time.Second)), cfg)

	assert.Empty(t, result.Violations, "idle window should restart after movement")
}
