package db

import (
	"context"
	"fmt"

	"github.com/MacJediWizard/licensegate/internal/models"
)

const verificationEventColumns = `id, timestamp, license_key, client_id, workflow_id,
		       context_identifier, allowed, reason`

// AppendVerificationEvent inserts e and returns the assigned id. The insert
// commits before the call returns.
func (db *DB) AppendVerificationEvent(ctx context.Context, e *models.VerificationEvent) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO verification_events (timestamp, license_key, client_id, workflow_id,
		                                 context_identifier, allowed, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, e.Timestamp, e.LicenseKey, e.ClientID, e.WorkflowID,
		e.ContextIdentifier, e.Allowed, e.Reason).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append verification event: %w", err)
	}
	return id, nil
}

// ListRecentVerificationEvents returns events matching filter, newest first.
func (db *DB) ListRecentVerificationEvents(ctx context.Context, filter models.EventFilter) ([]*models.VerificationEvent, error) {
	query := `SELECT ` + verificationEventColumns + ` FROM verification_events WHERE TRUE`
	args := []any{}
	argIdx := 1

	query, args, argIdx = appendEventFilters(query, args, argIdx, filter)

	query += " ORDER BY id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verification events: %w", err)
	}
	defer rows.Close()

	var events []*models.VerificationEvent
	for rows.Next() {
		var e models.VerificationEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.LicenseKey, &e.ClientID, &e.WorkflowID,
			&e.ContextIdentifier, &e.Allowed, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan verification event: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification events: %w", err)
	}
	return events, nil
}

// CountVerificationEvents returns the number of events matching filter,
// ignoring its limit and offset.
func (db *DB) CountVerificationEvents(ctx context.Context, filter models.EventFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM verification_events WHERE TRUE`
	query, args, _ := appendEventFilters(query, []any{}, 1, filter)

	var count int64
	if err := db.Pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count verification events: %w", err)
	}
	return count, nil
}

// appendEventFilters appends WHERE clauses for the given filter to the query.
func appendEventFilters(query string, args []any, argIdx int, filter models.EventFilter) (string, []any, int) {
	if filter.LicenseKey != "" {
		query += fmt.Sprintf(" AND license_key = $%d", argIdx)
		args = append(args, filter.LicenseKey)
		argIdx++
	}

	if filter.ClientID != "" {
		query += fmt.Sprintf(" AND client_id = $%d", argIdx)
		args = append(args, filter.ClientID)
		argIdx++
	}

	if filter.Allowed != nil {
		query += fmt.Sprintf(" AND allowed = $%d", argIdx)
		args = append(args, *filter.Allowed)
		argIdx++
	}

	return query, args, argIdx
}
