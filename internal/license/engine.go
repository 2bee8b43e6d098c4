// Package license decides whether a license check is allowed and records
// every attempt to the verification event log.
package license

import (
	"fmt"
	"strings"
	"time"

	"github.com/MacJediWizard/licensegate/internal/models"
)

// DenialReason explains why a verification was not allowed.
type DenialReason string

const (
	// ReasonInvalidLicense means no record exists for the supplied key.
	ReasonInvalidLicense DenialReason = "invalid_license"
	// ReasonSuspended means an operator disabled the license.
	ReasonSuspended DenialReason = "suspended"
	// ReasonExpired means the license expiry is in the past.
	ReasonExpired DenialReason = "expired"
)

// Verdict is the outcome returned to the caller.
// ExpiresAt is the stored expiry echoed verbatim, nil when no record was found.
type Verdict struct {
	Allowed   bool          `json:"allowed"`
	Reason    *DenialReason `json:"reason"`
	ExpiresAt *string       `json:"expires_at"`
}

// ReasonString returns the denial reason, or "" for an allowed verdict.
func (v Verdict) ReasonString() string {
	if v.Reason == nil {
		return ""
	}
	return string(*v.Reason)
}

// expiryLayouts are tried in order. Values without a zone are read as UTC.
// The set mirrors ISO 8601 as written by common tooling: seconds, minutes or
// hours precision, with a T or space separator and an optional offset.
var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04",
	"2006-01-02T15Z07:00",
	"2006-01-02T15",
	"2006-01-02 15Z07:00",
	"2006-01-02 15",
	"2006-01-02",
}

// ParseExpiry parses a stored expires_at value.
// A date-only value means midnight UTC at the start of that day.
func ParseExpiry(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty expiry")
	}
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized expiry format %q", value)
}

// Evaluate applies the decision rules to a lookup result. The first failing
// rule wins: unknown key, then suspension, then expiry. The expiry instant
// itself is still valid.
//
// An expires_at that cannot be parsed is returned as an *IntegrityError.
// Suspended records are denied before the expiry is read.
func Evaluate(rec *models.License, now time.Time) (Verdict, error) {
	if rec == nil {
		return deny(ReasonInvalidLicense, nil), nil
	}

	expiresAt := rec.ExpiresAt

	if rec.Status != models.LicenseStatusActive {
		return deny(ReasonSuspended, &expiresAt), nil
	}

	expiry, err := ParseExpiry(rec.ExpiresAt)
	if err != nil {
		return Verdict{}, &IntegrityError{
			LicenseKey: rec.LicenseKey,
			Field:      "expires_at",
			Value:      rec.ExpiresAt,
			Err:        err,
		}
	}

	if now.UTC().After(expiry) {
		return deny(ReasonExpired, &expiresAt), nil
	}

	return Verdict{Allowed: true, ExpiresAt: &expiresAt}, nil
}

func deny(reason DenialReason, expiresAt *string) Verdict {
	r := reason
	return Verdict{Allowed: false, Reason: &r, ExpiresAt: expiresAt}
}
