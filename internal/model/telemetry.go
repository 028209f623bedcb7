package model

import "time"

// NetworkType classifies the radio bearer a device reported over. It is
// not carried on the wire as its own field, and the Codec 8 decoder does
// not set it: decoded records carry the empty value.
type NetworkType string

const (
	NetworkUnknown NetworkType = "unknown"
	NetworkGPRS    NetworkType = "gprs"
	Network3G      NetworkType = "3g"
	NetworkLTE     NetworkType = "lte"
	NetworkWiFi    NetworkType = "wifi"
)

// Position is the GPS fix carried by a telemetry record. A point whose
// absolute latitude and longitude are both below the no-fix threshold is
// dropped before publishing (spec §4.1); records that pass that check
// still carry Telemetry.TimestampValid=false when the device timestamp
// looks implausible.
type Position struct {
	Latitude   float64
	Longitude  float64
	Altitude   int32
	Heading    uint16
	SpeedKmh   uint16
	Satellites uint8
}

// NoFixThreshold is the absolute-value bound below which both latitude and
// longitude together are treated as "no GPS fix" per spec §4.1.
const NoFixThreshold = 0.1

// HasFix reports whether the position carries a usable GPS fix.
func (p Position) HasFix() bool {
	return !(abs(p.Latitude) < NoFixThreshold && abs(p.Longitude) < NoFixThreshold)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// Telemetry is one decoded data-codec record, as produced by the Gateway's
// decoder and carried over the broker to the Consumer and Engine.
type Telemetry struct {
	Identity string
	// Sequence is not set by the device, and the Gateway's decoder and
	// publisher leave it zero; it is carried through the broker as is.
	Sequence  uint64
	Timestamp time.Time // normalized to UTC
	// TimestampValid is false when the device-reported timestamp fell
	// outside plausible bounds; the record is still emitted (spec §4.1)
	// for observability and left for downstream filters to drop.
	TimestampValid bool
	Position       Position
	// IO is a sparse channel-id -> value map; channel semantics are
	// defined by the device's I/O element catalog and are opaque here.
	IO         map[uint16]int64
	Ignition   bool
	MileageM   uint64
	Network    NetworkType
	RawFrameID string // fingerprint of the raw frame bytes, used for dedup
}

// FingerprintKey is the L1/L2 dedup key described in spec §4.6: identity +
// device timestamp + raw frame fingerprint.
func (t Telemetry) FingerprintKey() string {
	return t.Identity + "|" + t.Timestamp.UTC().Format(time.RFC3339Nano) + "|" + t.RawFrameID
}

// AlarmSeverity classifies an Alarm's urgency. Critical alarms are
// eligible for expedited (non-batched) handling by the Engine outside of
// shadow mode — see SPEC_FULL.md Supplemented Features.
type AlarmSeverity string

const (
	SeverityInfo     AlarmSeverity = "info"
	SeverityWarning  AlarmSeverity = "warning"
	SeverityCritical AlarmSeverity = "critical"
)

// Alarm is a telemetry record annotated with an alarm classifier and
// severity, routed to a separate queue (spec §3, §6).
type Alarm struct {
	Telemetry
	Kind     string
	Severity AlarmSeverity
}

// FingerprintKey shadows Telemetry.FingerprintKey: two alarms raised off
// the same underlying fix are distinct records when their Kind differs.
func (a Alarm) FingerprintKey() string {
	return a.Telemetry.FingerprintKey() + "|" + a.Kind
}
