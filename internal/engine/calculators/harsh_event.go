package calculators

import (
	"fmt"

	"github.com/fleetpulse/telemetry-core/internal/engine"
	"github.com/fleetpulse/telemetry-core/internal/model"
)

const harshEventFormulaVersion = 1

// harshEventIO is the I/O channel id the accelerometer-derived harsh
// event flag is reported on, matching the decoder's sparse IO map
// (spec §4.1/§4.7 — opaque channel semantics owned by the device's I/O
// element catalog; this calculator is the one place that catalog is
// consulted).
const harshEventIO uint16 = 253

// HarshEvent raises a critical violation the instant a device reports a
// harsh-braking or harsh-acceleration I/O flag; unlike Speeding this
// needs no sustained window, since the underlying device-side event
// detector already debounces.
type HarshEvent struct{}

func (HarshEvent) Name() string { return "harsh_event" }
func (HarshEvent) Version() int { return harshEventFormulaVersion }

func (HarshEvent) Evaluate(state *engine.DeviceState, rec model.Telemetry, cfg engine.DeviceConfig) engine.Result {
	flag, ok := rec.IO[harshEventIO]
	if !ok || flag == 0 {
		return engine.Result{}
	}

	return engine.Result{
		Violations: []engine.ViolationEvent{{
			Identity: rec.Identity, Calculator: "harsh_event", Kind: "harsh_event",
			Severity: model.SeverityCritical, FormulaVersion: harshEventFormulaVersion,
			Detail:   fmt.Sprintf("device-reported harsh event flag=%d", flag),
			Recorded: rec,
		}},
	}
}
