// Package admin builds the operator view: license records, the recent event
// window with totals, and the kill switch.
package admin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/rs/zerolog"
)

// DefaultEventWindow is the number of recent events read per refresh.
const DefaultEventWindow = 200

// Store is the read side of both stores plus the status mutation.
type Store interface {
	ListLicenses(ctx context.Context) ([]*models.License, error)
	SetLicenseStatus(ctx context.Context, licenseKey string, status models.LicenseStatus) error
	ListRecentVerificationEvents(ctx context.Context, filter models.EventFilter) ([]*models.VerificationEvent, error)
}

// Recorder receives administration metrics.
type Recorder interface {
	RecordStatusChange(status string)
	SetLicenseCounts(active, suspended int)
	RecordRefresh(err error)
}

// Totals aggregates a window of events.
type Totals struct {
	Total   int `json:"total"`
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
}

// Summarize counts allowed and denied events.
func Summarize(events []*models.VerificationEvent) Totals {
	t := Totals{Total: len(events)}
	for _, e := range events {
		if e.Allowed {
			t.Allowed++
		} else {
			t.Denied++
		}
	}
	return t
}

// Snapshot is one consistent read of the operator view.
type Snapshot struct {
	Licenses    []*models.License           `json:"licenses"`
	Events      []*models.VerificationEvent `json:"events"`
	Totals      Totals                      `json:"totals"`
	RefreshedAt time.Time                   `json:"refreshed_at"`
}

// StatusChange confirms an operator status change.
type StatusChange struct {
	LicenseKey string               `json:"license_key"`
	Status     models.LicenseStatus `json:"status"`
	Message    string               `json:"message"`
}

// DashboardConfig holds the collaborators of a Dashboard.
type DashboardConfig struct {
	Store       Store
	Recorder    Recorder
	EventWindow int
	Clock       func() time.Time
	Logger      zerolog.Logger
}

// Dashboard caches the latest Snapshot. Readers never block on the stores.
type Dashboard struct {
	store    Store
	recorder Recorder
	window   int
	clock    func() time.Time
	logger   zerolog.Logger

	mu       sync.RWMutex
	snapshot *Snapshot
}

// NewDashboard creates a Dashboard with an empty snapshot.
func NewDashboard(cfg DashboardConfig) *Dashboard {
	window := cfg.EventWindow
	if window <= 0 {
		window = DefaultEventWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Dashboard{
		store:    cfg.Store,
		recorder: cfg.Recorder,
		window:   window,
		clock:    clock,
		logger:   cfg.Logger.With().Str("component", "dashboard").Logger(),
	}
}

// EventWindow returns the number of events held in each snapshot.
func (d *Dashboard) EventWindow() int {
	return d.window
}

// Refresh rebuilds the snapshot from the stores. On error the previous
// snapshot is kept.
func (d *Dashboard) Refresh(ctx context.Context) (*Snapshot, error) {
	snap, err := d.build(ctx)
	if d.recorder != nil {
		d.recorder.RecordRefresh(err)
	}
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.snapshot = snap
	d.mu.Unlock()

	if d.recorder != nil {
		active, suspended := countStatuses(snap.Licenses)
		d.recorder.SetLicenseCounts(active, suspended)
	}
	return snap, nil
}

func (d *Dashboard) build(ctx context.Context) (*Snapshot, error) {
	licenses, err := d.store.ListLicenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	events, err := d.store.ListRecentVerificationEvents(ctx, models.EventFilter{Limit: d.window})
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	if licenses == nil {
		licenses = []*models.License{}
	}
	if events == nil {
		events = []*models.VerificationEvent{}
	}
	return &Snapshot{
		Licenses:    licenses,
		Events:      events,
		Totals:      Summarize(events),
		RefreshedAt: d.clock().UTC(),
	}, nil
}

// Current returns the last snapshot, or nil before the first refresh.
func (d *Dashboard) Current() *Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot
}

// Snapshot returns the last snapshot, refreshing first if none exists yet.
func (d *Dashboard) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := d.Current(); snap != nil {
		return snap, nil
	}
	return d.Refresh(ctx)
}

// SetStatus writes a status change through to the store and refreshes the
// snapshot so the change is visible immediately.
func (d *Dashboard) SetStatus(ctx context.Context, licenseKey string, status models.LicenseStatus) (*StatusChange, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidStatus, status)
	}
	if err := d.store.SetLicenseStatus(ctx, licenseKey, status); err != nil {
		return nil, err
	}

	if d.recorder != nil {
		d.recorder.RecordStatusChange(string(status))
	}
	d.logger.Info().
		Str("license_key", licenseKey).
		Str("status", string(status)).
		Msg("license status changed")

	if _, err := d.Refresh(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("refresh after status change failed")
	}

	return &StatusChange{
		LicenseKey: licenseKey,
		Status:     status,
		Message:    fmt.Sprintf("%s is now %s", licenseKey, strings.ToUpper(string(status))),
	}, nil
}

func countStatuses(licenses []*models.License) (active, suspended int) {
	for _, l := range licenses {
		if l.IsActive() {
			active++
		} else {
			suspended++
		}
	}
	return active, suspended
}
