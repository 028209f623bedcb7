// Package calculators holds the concrete engine.Calculator
// implementations, grounded on metric_engine_node's speed/idle/harsh
// event scoring (spec §4.7, SPEC_FULL.md Supplemented Features).
package calculators

import (
	"fmt"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/engine"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

// speedingFormulaVersion bumps whenever the breach test below changes in
// a way that would alter past violation rows if recomputed.
const speedingFormulaVersion = 1

// sustainedBreachWindow is how long a device must stay over its speed
// limit before Speeding raises a violation, to avoid flagging brief GPS
// noise spikes.
const sustainedBreachWindow = 30 * time.Second

// Speeding flags a device exceeding its configured speed limit for at
// least sustainedBreachWindow continuously.
type Speeding struct{}

func (Speeding) Name() string    { return "speeding" }
func (Speeding) Version() int    { return speedingFormulaVersion }

func (Speeding) Evaluate(state *engine.DeviceState, rec model.Telemetry, cfg engine.DeviceConfig) engine.Result {
	if cfg.SpeedLimitKmh == 0 || !rec.Position.HasFix() {
		return engine.Result{}
	}

	state.Lock()
	defer state.Unlock()

	over := rec.Position.SpeedKmh > cfg.SpeedLimitKmh
	if !over {
		delete(state.OpenSince, "speeding")
		return engine.Result{}
	}

	opened, wasOpen := state.OpenSince["speeding"]
	if !wasOpen {
		state.OpenSince["speeding"] = rec.Timestamp
		return engine.Result{
			Metrics: []engine.MetricEvent{{
				Identity: rec.Identity, Calculator: "speeding", Name: "speed_kmh",
				Value: float64(rec.Position.SpeedKmh), Recorded: rec,
			}},
		}
	}

	if rec.Timestamp.Sub(opened) < sustainedBreachWindow {
		return engine.Result{}
	}

	severity := model.SeverityWarning
	if rec.Position.SpeedKmh > cfg.SpeedLimitKmh+20 {
		severity = model.SeverityCritical
	}

	return engine.Result{
		Violations: []engine.ViolationEvent{{
			Identity: rec.Identity, Calculator: "speeding", Kind: "speeding",
			Severity: severity, FormulaVersion: speedingFormulaVersion,
			Detail:   fmt.Sprintf("%d km/h over a %d km/h limit, sustained", rec.Position.SpeedKmh, cfg.SpeedLimitKmh),
			Recorded: rec,
		}},
	}
}
