package license

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/rs/zerolog"
)

// Default development license provisioned on first start.
const (
	DefaultLicenseKey       = "LIC-dev"
	DefaultLicenseClientID  = "internal"
	DefaultLicenseExpiresAt = "2099-01-01"
)

// Provisioner inserts a license record only when its key is absent.
type Provisioner interface {
	EnsureLicense(ctx context.Context, license *models.License) (bool, error)
}

// DefaultLicense returns the development license record.
func DefaultLicense() *models.License {
	return models.NewLicense(DefaultLicenseKey, DefaultLicenseClientID, DefaultLicenseExpiresAt)
}

// EnsureDefault provisions the development license without overwriting an
// existing record of the same key.
func EnsureDefault(ctx context.Context, p Provisioner, logger zerolog.Logger) error {
	created, err := p.EnsureLicense(ctx, DefaultLicense())
	if err != nil {
		return fmt.Errorf("ensure default license: %w", err)
	}
	if created {
		logger.Info().Str("license_key", DefaultLicenseKey).Msg("provisioned default license")
	}
	return nil
}
