package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/jackc/pgx/v5"
)

// GetLicense returns the license for key, or nil when none exists.
func (db *DB) GetLicense(ctx context.Context, licenseKey string) (*models.License, error) {
	var l models.License
	err := db.Pool.QueryRow(ctx, `
		SELECT license_key, client_id, status, expires_at
		FROM licenses
		WHERE license_key = $1
	`, licenseKey).Scan(&l.LicenseKey, &l.ClientID, &l.Status, &l.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return &l, nil
}

// ListLicenses returns every license ordered by client then key.
func (db *DB) ListLicenses(ctx context.Context) ([]*models.License, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT license_key, client_id, status, expires_at
		FROM licenses
		ORDER BY client_id, license_key
	`)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		var l models.License
		if err := rows.Scan(&l.LicenseKey, &l.ClientID, &l.Status, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		licenses = append(licenses, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate licenses: %w", err)
	}
	return licenses, nil
}

// SetLicenseStatus changes the status of an existing license.
func (db *DB) SetLicenseStatus(ctx context.Context, licenseKey string, status models.LicenseStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set license status: %w: %q", models.ErrInvalidStatus, status)
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE licenses SET status = $2 WHERE license_key = $1
	`, licenseKey, string(status))
	if err != nil {
		return fmt.Errorf("set license status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrLicenseNotFound
	}
	return nil
}

// EnsureLicense inserts l unless its key already exists. It reports whether a
// row was created.
func (db *DB) EnsureLicense(ctx context.Context, l *models.License) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO licenses (license_key, client_id, status, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (license_key) DO NOTHING
	`, l.LicenseKey, l.ClientID, string(l.Status), l.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("ensure license: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
