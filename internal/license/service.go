package license

import (
	"context"
	"time"

	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/rs/zerolog"
)

// LicenseLookup reads license records. A missing key yields nil, nil.
type LicenseLookup interface {
	GetLicense(ctx context.Context, licenseKey string) (*models.License, error)
}

// EventAppender durably appends verification events and returns the assigned id.
type EventAppender interface {
	AppendVerificationEvent(ctx context.Context, event *models.VerificationEvent) (int64, error)
}

// Recorder receives verification outcomes for metrics.
type Recorder interface {
	RecordVerification(allowed bool, reason string, duration time.Duration)
	RecordFault(kind string)
}

// Request carries the caller-supplied fields of one verification.
// Nil means the caller omitted the field.
type Request struct {
	LicenseKey        *string
	ClientID          *string
	WorkflowID        *string
	ContextIdentifier *string
}

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Licenses LicenseLookup
	Events   EventAppender
	Recorder Recorder
	Clock    func() time.Time
	Logger   zerolog.Logger
}

// Service performs lookup, decision and audit for each verification.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	licenses LicenseLookup
	events   EventAppender
	recorder Recorder
	clock    func() time.Time
	logger   zerolog.Logger
}

// NewService creates a new verification Service.
func NewService(cfg ServiceConfig) *Service {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		licenses: cfg.Licenses,
		events:   cfg.Events,
		recorder: cfg.Recorder,
		clock:    clock,
		logger:   cfg.Logger.With().Str("component", "license_service").Logger(),
	}
}

// Verify decides a request and appends exactly one event for it.
// On a storage or integrity fault no event is appended and the error is
// returned as *StorageError or *IntegrityError.
func (s *Service) Verify(ctx context.Context, req Request) (*Verdict, error) {
	start := time.Now()

	var rec *models.License
	if key := models.StringValue(req.LicenseKey); key != "" {
		found, err := s.licenses.GetLicense(ctx, key)
		if err != nil {
			s.fault("storage", err)
			return nil, &StorageError{Op: "lookup", Err: err}
		}
		rec = found
	}

	now := s.clock()
	verdict, err := Evaluate(rec, now)
	if err != nil {
		s.fault("integrity", err)
		return nil, err
	}

	event := &models.VerificationEvent{
		Timestamp:         now.UTC(),
		LicenseKey:        req.LicenseKey,
		ClientID:          req.ClientID,
		WorkflowID:        req.WorkflowID,
		ContextIdentifier: req.ContextIdentifier,
		Allowed:           verdict.Allowed,
	}
	if verdict.Reason != nil {
		reason := string(*verdict.Reason)
		event.Reason = &reason
	}

	id, err := s.events.AppendVerificationEvent(ctx, event)
	if err != nil {
		s.fault("storage", err)
		return nil, &StorageError{Op: "append", Err: err}
	}

	if s.recorder != nil {
		s.recorder.RecordVerification(verdict.Allowed, verdict.ReasonString(), time.Since(start))
	}

	if !verdict.Allowed {
		s.logger.Info().
			Int64("event_id", id).
			Str("client_id", models.StringValue(req.ClientID)).
			Str("workflow_id", models.StringValue(req.WorkflowID)).
			Str("reason", verdict.ReasonString()).
			Msg("license verification denied")
	} else {
		s.logger.Debug().
			Int64("event_id", id).
			Str("client_id", models.StringValue(req.ClientID)).
			Msg("license verification allowed")
	}

	return &verdict, nil
}

func (s *Service) fault(kind string, err error) {
	if s.recorder != nil {
		s.recorder.RecordFault(kind)
	}
	s.logger.Error().Err(err).Str("kind", kind).Msg("license verification failed")
}
