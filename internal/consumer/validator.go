package consumer

import (
	"fmt"

	"github.com/fleetpulse/telemetry-core/internal/model"
)

// ValidationError names the rejected field so the DLQ header (spec §6
// x-field) carries it through unchanged.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("consumer: validation failed on %s: %s", e.Field, e.Reason)
}

// Latitude/longitude bounds a valid GPS fix must respect.
const (
	minLatitude  = -90.0
	maxLatitude  = 90.0
	minLongitude = -180.0
	maxLongitude = 180.0
)

// ValidateTelemetry rejects records with out-of-range position,
// non-parseable timestamps, or missing identity (spec §4.6). A nil
// return means the record may proceed to dedup and write.
func ValidateTelemetry(rec model.Telemetry) error {
	if err := model.ValidateIdentity(rec.Identity); err != nil {
		return &ValidationError{Field: "identity", Reason: err.Error()}
	}
	if !rec.TimestampValid {
		return &ValidationError{Field: "timestamp", Reason: "implausible device timestamp"}
	}
	if rec.Position.HasFix() {
		if rec.Position.Latitude < minLatitude || rec.Position.Latitude > maxLatitude {
			return &ValidationError{Field: "position.latitude", Reason: "out of range"}
		}
		if rec.Position.Longitude < minLongitude || rec.Position.Longitude > maxLongitude {
			return &ValidationError{Field: "position.longitude", Reason: "out of range"}
		}
	}
	return nil
}
