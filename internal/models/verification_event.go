package models

import "time"

// VerificationEvent is one immutable audit entry for a verification attempt.
// Caller-supplied fields are nil when the caller omitted them.
type VerificationEvent struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	LicenseKey        *string   `json:"license_key"`
	ClientID          *string   `json:"client_id"`
	WorkflowID        *string   `json:"workflow_id"`
	ContextIdentifier *string   `json:"context_identifier"`
	Allowed           bool      `json:"allowed"`
	Reason            *string   `json:"reason"`
}

// EventFilter narrows a newest-first read of the event log.
type EventFilter struct {
	LicenseKey string
	ClientID   string
	Allowed    *bool
	Limit      int
	Offset     int
}

// StringPtr returns nil for an empty string and a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
