// Package sqlite implements the license store and verification event log on
// a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store keeps licenses and verification events in one SQLite database.
type Store struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens or creates the database at path and applies the schema.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "sqlite_store").Logger(),
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("license database initialized")
	return s, nil
}

// migrate creates the necessary tables.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS licenses (
			license_key TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'suspended')),
			expires_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS verification_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			license_key TEXT,
			client_id TEXT,
			workflow_id TEXT,
			context_identifier TEXT,
			allowed INTEGER NOT NULL,
			reason TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_verification_events_license_key ON verification_events(license_key);
		CREATE INDEX IF NOT EXISTS idx_verification_events_client_id ON verification_events(client_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Driver names the backend for health and version output.
func (s *Store) Driver() string {
	return "sqlite"
}

// Ping verifies the database file is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Health returns connection pool statistics.
func (s *Store) Health() map[string]any {
	stats := s.db.Stats()
	return map[string]any{
		"driver":           s.Driver(),
		"path":             s.path,
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
	}
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetLicense returns the license for key, or nil when none exists.
func (s *Store) GetLicense(ctx context.Context, licenseKey string) (*models.License, error) {
	var l models.License
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT license_key, client_id, status, expires_at
		FROM licenses
		WHERE license_key = ?
	`, licenseKey).Scan(&l.LicenseKey, &l.ClientID, &status, &l.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	l.Status = models.LicenseStatus(status)
	return &l, nil
}

// ListLicenses returns every license ordered by client then key.
func (s *Store) ListLicenses(ctx context.Context) ([]*models.License, error) {
	rows, err := s.db.QueryContext(ctx, `
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
		var status string
		if err := rows.Scan(&l.LicenseKey, &l.ClientID, &status, &l.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan license: %w", err)
		}
		l.Status = models.LicenseStatus(status)
		licenses = append(licenses, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate licenses: %w", err)
	}
	return licenses, nil
}

// SetLicenseStatus changes the status of an existing license.
func (s *Store) SetLicenseStatus(ctx context.Context, licenseKey string, status models.LicenseStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set license status: %w: %q", models.ErrInvalidStatus, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE licenses SET status = ? WHERE license_key = ?`, string(status), licenseKey)
	if err != nil {
		return fmt.Errorf("set license status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set license status: %w", err)
	}
	if n == 0 {
		return models.ErrLicenseNotFound
	}
	return nil
}

// EnsureLicense inserts l unless its key already exists. It reports whether a
// row was created.
func (s *Store) EnsureLicense(ctx context.Context, l *models.License) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO licenses (license_key, client_id, status, expires_at)
		VALUES (?, ?, ?, ?)
	`, l.LicenseKey, l.ClientID, string(l.Status), l.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("ensure license: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure license: %w", err)
	}
	return n == 1, nil
}

// AppendVerificationEvent inserts e and returns the assigned id.
func (s *Store) AppendVerificationEvent(ctx context.Context, e *models.VerificationEvent) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_events (timestamp, license_key, client_id, workflow_id, context_identifier, allowed, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		nullString(e.LicenseKey),
		nullString(e.ClientID),
		nullString(e.WorkflowID),
		nullString(e.ContextIdentifier),
		boolToInt(e.Allowed),
		nullString(e.Reason),
	)
	if err != nil {
		return 0, fmt.Errorf("append verification event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append verification event: %w", err)
	}
	return id, nil
}

// ListRecentVerificationEvents returns events matching filter, newest first.
func (s *Store) ListRecentVerificationEvents(ctx context.Context, filter models.EventFilter) ([]*models.VerificationEvent, error) {
	where, args := eventWhere(filter)
	query := `
		SELECT id, timestamp, license_key, client_id, workflow_id, context_identifier, allowed, reason
		FROM verification_events` + where + ` ORDER BY id DESC`

	// SQLite requires LIMIT when OFFSET is present; -1 means unbounded.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verification events: %w", err)
	}
	defer rows.Close()

	var events []*models.VerificationEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification events: %w", err)
	}
	return events, nil
}

// CountVerificationEvents returns the number of events matching filter.
func (s *Store) CountVerificationEvents(ctx context.Context, filter models.EventFilter) (int64, error) {
	where, args := eventWhere(filter)
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM verification_events`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count verification events: %w", err)
	}
	return count, nil
}

func eventWhere(filter models.EventFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.LicenseKey != "" {
		clauses = append(clauses, "license_key = ?")
		args = append(args, filter.LicenseKey)
	}
	if filter.ClientID != "" {
		clauses = append(clauses, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.Allowed != nil {
		clauses = append(clauses, "allowed = ?")
		args = append(args, boolToInt(*filter.Allowed))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.VerificationEvent, error) {
	var e models.VerificationEvent
	var ts string
	var licenseKey, clientID, workflowID, contextID, reason sql.NullString
	var allowed int

	if err := row.Scan(&e.ID, &ts, &licenseKey, &clientID, &workflowID, &contextID, &allowed, &reason); err != nil {
		return nil, fmt.Errorf("scan verification event: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse event %d timestamp: %w", e.ID, err)
	}
	e.Timestamp = parsed.UTC()
	e.LicenseKey = fromNullString(licenseKey)
	e.ClientID = fromNullString(clientID)
	e.WorkflowID = fromNullString(workflowID)
	e.ContextIdentifier = fromNullString(contextID)
	e.Allowed = allowed != 0
	e.Reason = fromNullString(reason)
	return &e, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
