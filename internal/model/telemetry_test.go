package model

import "testing"

func TestPositionHasFix(t *testing.T) {
	cases := []struct {
		name    string
		pos     Position
		hasFix  bool
	}{
		{"origin is no fix", Position{Latitude: 0, Longitude: 0}, false},
		{"both below threshold is no fix", Position{Latitude: 0.05, Longitude: -0.05}, false},
		{"lat above threshold has fix", Position{Latitude: 12.9716, Longitude: 0.02}, true},
		{"lon above threshold has fix", Position{Latitude: 0.02, Longitude: 77.5946}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.pos.HasFix(); got != tc.hasFix {
				t.Fatalf("HasFix() = %v, want %v", got, tc.hasFix)
			}
		})
	}
}

func TestFingerprintKeyStable(t *testing.T) {
	tm := Telemetry{Identity: "123456789012345", RawFrameID: "abc"}
	if tm.FingerprintKey() != tm.FingerprintKey() {
		t.Fatal("FingerprintKey should be deterministic for the same record")
	}
	other := tm
	other.RawFrameID = "def"
	if tm.FingerprintKey() == other.FingerprintKey() {
		t.Fatal("FingerprintKey should differ when the raw frame fingerprint differs")
	}
}
