package calculators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/telemetry-core/internal/engine"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

func telemetryAt(speed uint16, when time.Time) model.Telemetry {
	return model.Telemetry{
		Identity:  "356938035643809",
		Timestamp: when,
		Position:  model.Position{Latitude: 45.0, Longitude: 13.5, SpeedKmh: speed},
	}
}

func TestSpeedingSkipsWithoutConfiguredLimit(t *testing.T) {
	calc := Speeding{}
	state := engine.NewStateStore().Get("356938035643809")
	result := calc.Evaluate(state, telemetryAt(120, time.Now()), engine.DeviceConfig{})
	assert.Empty(t, result.Metrics)
	assert.Empty(t, result.Violations)
}

func TestSpeedingEmitsMetricOnFirstBreachThenNothingBeforeWindowElapses(t *testing.T) {
	calc := Speeding{}
	state := engine.NewStateStore().Get("356938035643809")
	cfg := engine.DeviceConfig{SpeedLimitKmh: 90}
	start := time.Now()

	first := calc.Evaluate(state, telemetryAt(100, start), cfg)
	require.Len(t, first.Metrics, 1)
	assert.Empty(t, first.Violations)

	second := calc.Evaluate(state, telemetryAt(100, start.Add(5*time.Second)), cfg)
	assert.Empty(t, second.Metrics)
	assert.Empty(t, second.Violations)
}

func TestSpeedingRaisesViolationAfterSustainedWindow(t *testing.T) {
	calc := Speeding{}
	state := engine.NewStateStore().Get("356938035643809")
	cfg := engine.DeviceConfig{SpeedLimitKmh: 90}
	start := time.Now()

	calc.Evaluate(state, telemetryAt(100, start), cfg)
	result := calc.Evaluate(state, telemetryAt(100, start.Add(31*time.Second)), cfg)

	require.Len(t, result.Violations, 1)
	assert.Equal(t, model.SeverityWarning, result.Violations[0].Severity)
}

func TestSpeedingEscalatesToCriticalFarOverLimit(t *testing.T) {
	calc := Speeding{}
	state := engine.NewStateStore().Get("356938035643809")
	cfg := engine.DeviceConfig{SpeedLimitKmh: 90}
	start := time.Now()

	calc.Evaluate(state, telemetryAt(130, start), cfg)
	result := calc.Evaluate(state, telemetryAt(130, start.Add(31*time.Second)), cfg)

	require.Len(t, result.Violations, 1)
	assert.Equal(t, model.SeverityCritical, result.Violations[0].Severity)
}

func TestSpeedingResetsBreachWindowWhenSpeedDropsBelowLimit(t *testing.T) {
	calc := Speeding{}
	state := engine.NewStateStore().Get("356938035643809")
	cfg := engine.DeviceConfig{SpeedLimitKmh: 90}
	start := time.Now()

	calc.Evaluate(state, telemetryAt(100, start), cfg)
	calc.Evaluate(state, telemetryAt(50, start.Add(5*time.Second)), cfg)
	result := calc.Evaluate(state, telemetryAt(100, start.Add(40*time.Second)), cfg)

	assert.Empty(t, result.Violations, "breach window should restart after dropping below the limit")
}
