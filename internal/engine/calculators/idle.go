package calculators

import (
	"fmt"

	"github.com/fleetpulse/telemetry-core/internal/engine"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

const idleFormulaVersion = 1

// Idle flags a device that has kept its ignition on with no meaningful
// movement for longer than the configured threshold — a warning, not a
// critical violation, since idling is a cost/efficiency concern rather
// than a safety one.
type Idle struct{}

func (Idle) Name() string { return "idle" }
func (Idle) Version() int { return idleFormulaVersion }

func (Idle) Evaluate(state *engine.DeviceState, rec model.Telemetry, cfg engine.DeviceConfig) engine.Result {
	if cfg.IdleThreshold == 0 {
		return engine.Result{}
	}

	state.Lock()
	defer state.Unlock()

	moving := rec.Position.SpeedKmh > 0

	if !rec.Ignition || moving {
		delete(state.OpenSince, "idle")
		return engine.Result{}
	}

	opened, wasIdle := state.OpenSince["idle"]
	if !wasIdle {
		state.OpenSince["idle"] = rec.Timestamp
		return engine.Result{}
	}

	elapsed := rec.Timestamp.Sub(opened)
	if elapsed < cfg.IdleThreshold {
		return engine.Result{}
	}

	// Re-raise at most once per threshold window, not on every record
	// while the vehicle stays idle.
	last, raisedBefore := state.LastRaisedAt["idle"]
	if raisedBefore && rec.Timestamp.Sub(last) < cfg.IdleThreshold {
		return engine.Result{}
	}
	state.LastRaisedAt["idle"] = rec.Timestamp

	return engine.Result{
		Violations: []engine.ViolationEvent{{
			Identity: rec.Identity, Calculator: "idle", Kind: "excessive_idle",
			Severity: model.SeverityWarning, FormulaVersion: idleFormulaVersion,
			Detail:   fmt.Sprintf("ignition on, stationary for %s", elapsed.String()),
			Recorded: rec,
		}},
	}
}
