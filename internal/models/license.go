// Package models defines the license and verification event records.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// LicenseStatus is the operator-controlled state of a license.
type LicenseStatus string

const (
	// LicenseStatusActive allows verification to proceed to the expiry check.
	LicenseStatusActive LicenseStatus = "active"
	// LicenseStatusSuspended blocks every verification (kill switch).
	LicenseStatusSuspended LicenseStatus = "suspended"
)

var (
	// ErrLicenseNotFound is returned when a status change targets an unknown key.
	ErrLicenseNotFound = errors.New("license not found")
	// ErrInvalidStatus is returned for any status other than active or suspended.
	ErrInvalidStatus = errors.New("invalid license status")
)

// Valid reports whether s is one of the two known statuses.
func (s LicenseStatus) Valid() bool {
	return s == LicenseStatusActive || s == LicenseStatusSuspended
}

// ParseLicenseStatus converts user input into a LicenseStatus.
func ParseLicenseStatus(s string) (LicenseStatus, error) {
	status := LicenseStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// License is the authoritative record for a license key.
// ExpiresAt holds the stored value verbatim; it is parsed at verification time.
type License struct {
	LicenseKey string        `json:"license_key"`
	ClientID   string        `json:"client_id"`
	Status     LicenseStatus `json:"status"`
	ExpiresAt  string        `json:"expires_at"`
}

// NewLicense creates an active License.
func NewLicense(licenseKey, clientID, expiresAt string) *License {
	return &License{
		LicenseKey: licenseKey,
		ClientID:   clientID,
		Status:     LicenseStatusActive,
		ExpiresAt:  expiresAt,
	}
}

// IsActive reports whether the license status is active.
func (l *License) IsActive() bool {
	return l.Status == LicenseStatusActive
}
