package consumer

import (
	"errors"
	"testing"
	"time"

	"github.com/fleetpulse/telemetry-core/internal/model"
)

func validTelemetry() model.Telemetry {
	return model.Telemetry{
		Identity:       "356938035643809",
		Timestamp:      time.Now().UTC(),
		TimestampValid: true,
		Position:       model.Position{Latitude: 45.0, Longitude: 13.5},
	}
}

func TestValidateTelemetryAccepts(t *testing.T) {
	if err := ValidateTelemetry(validTelemetry()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTelemetryRejectsMissingIdentity(t *testing.T) {
	rec := validTelemetry()
	rec.Identity = "not-an-imei"
	err := ValidateTelemetry(rec)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "identity" {
		t.Fatalf("expected identity ValidationError, got %v", err)
	}
}

func TestValidateTelemetryRejectsInvalidTimestamp(t *testing.T) {
	rec := validTelemetry()
	rec.TimestampValid = false
	err := ValidateTelemetry(rec)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "timestamp" {
		t.Fatalf("expected timestamp ValidationError, got %v", err)
	}
}

func TestValidateTelemetryRejectsOutOfRangePosition(t *testing.T) {
	rec := validTelemetry()
	rec.Position.Latitude = 200
	err := ValidateTelemetry(rec)
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "position.latitude" {
		t.Fatalf("expected position.latitude ValidationError, got %v", err)
	}
}

func TestValidateTelemetryAllowsNoFixPosition(t *testing.T) {
	rec := validTelemetry()
	rec.Position.Latitude = 0
	rec.Position.Longitude = 0
	if err := ValidateTelemetry(rec); err != nil {
		t.Fatalf("a no-fix position should not be treated as out of range: %v", err)
	}
}
