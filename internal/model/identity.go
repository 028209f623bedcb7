// Package model holds the wire- and storage-level record types shared by
// the Gateway, Consumer, and Engine: device identity, telemetry, alarms,
// commands, and recalculation jobs.
package model

import "errors"

// ErrInvalidIdentity is returned by ValidateIdentity when a candidate
// device identifier is not exactly 15 digits.
var ErrInvalidIdentity = errors.New("model: identity must be exactly 15 digits")

// ValidateIdentity checks that s is a 15-digit numeric device identifier.
// The identity is treated as an opaque string everywhere else in the
// system; this is the only place format is enforced.
func ValidateIdentity(s string) error {
	if len(s) != 15 {
		return ErrInvalidIdentity
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return ErrInvalidIdentity
		}
	}
	return nil
}
