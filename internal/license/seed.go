package license

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document used to provision licenses out of band.
//
//	licenses:
//	  - license_key: LIC-acme-1
//	    client_id: acme
//	    expires_at: "2027-01-01"
//	    status: active
type SeedFile struct {
	Licenses []SeedLicense `yaml:"licenses"`
}

// SeedLicense is one record in a SeedFile. Status defaults to active.
type SeedLicense struct {
	LicenseKey string `yaml:"license_key"`
	ClientID   string `yaml:"client_id"`
	ExpiresAt  string `yaml:"expires_at"`
	Status     string `yaml:"status,omitempty"`
}

// LoadSeedFile reads and validates a seed file from disk.
func LoadSeedFile(path string) ([]*models.License, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a seed document. Every record is checked before any is
// returned so a bad file provisions nothing.
func ParseSeed(data []byte) ([]*models.License, error) {
	var doc SeedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}

	var errs []error
	seen := make(map[string]bool, len(doc.Licenses))
	licenses := make([]*models.License, 0, len(doc.Licenses))

	for i, s := range doc.Licenses {
		key := strings.TrimSpace(s.LicenseKey)
		if key == "" {
			errs = append(errs, fmt.Errorf("licenses[%d]: license_key is required", i))
			continue
		}
		if seen[key] {
			errs = append(errs, fmt.Errorf("licenses[%d]: duplicate license_key %q", i, key))
			continue
		}
		seen[key] = true

		if _, err := ParseExpiry(s.ExpiresAt); err != nil {
			errs = append(errs, fmt.Errorf("licenses[%d]: %w", i, err))
			continue
		}

		l := models.NewLicense(key, s.ClientID, s.ExpiresAt)
		if s.Status != "" {
			status, err := models.ParseLicenseStatus(s.Status)
			if err != nil {
				errs = append(errs, fmt.Errorf("licenses[%d]: %w", i, err))
				continue
			}
			l.Status = status
		}
		licenses = append(licenses, l)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return licenses, nil
}

// SeedResult counts the outcome of ImportSeed.
type SeedResult struct {
	Created int
	Skipped int
}

// ImportSeed provisions each license that does not exist yet. Existing
// records, including their status, are left untouched.
func ImportSeed(ctx context.Context, p Provisioner, licenses []*models.License, logger zerolog.Logger) (SeedResult, error) {
	var res SeedResult
	for _, l := range licenses {
		created, err := p.EnsureLicense(ctx, l)
		if err != nil {
			return res, fmt.Errorf("import license %s: %w", l.LicenseKey, err)
		}
		if created {
			res.Created++
			logger.Info().Str("license_key", l.LicenseKey).Str("client_id", l.ClientID).Msg("provisioned license")
		} else {
			res.Skipped++
		}
	}
	return res, nil
}
