package admin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu          sync.Mutex
	licenses    []*models.License
	events      []*models.VerificationEvent
	listErr     error
	eventsErr   error
	setErr      error
	lastFilter  models.EventFilter
	listCalls   int
	statusCalls int
}

func (m *mockStore) ListLicenses(_ context.Context) ([]*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]*models.License, len(m.licenses))
	for i, l := range m.licenses {
		cp := *l
		out[i] = &cp
	}
	return out, nil
}

func (m *mockStore) SetLicenseStatus(_ context.Context, key string, status models.LicenseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	if m.setErr != nil {
		return m.setErr
	}
	for _, l := range m.licenses {
		if l.LicenseKey == key {
			l.Status = status
			return nil
		}
	}
	return models.ErrLicenseNotFound
}

func (m *mockStore) ListRecentVerificationEvents(_ context.Context, f models.EventFilter) ([]*models.VerificationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastFilter = f
	if m.eventsErr != nil {
		return nil, m.eventsErr
	}
	if f.Limit > 0 && len(m.events) > f.Limit {
		return m.events[:f.Limit], nil
	}
	return m.events, nil
}

type mockRecorder struct {
	statusChanges []string
	active        int
	suspended     int
	refreshes     int
	refreshErrs   int
}

func (m *mockRecorder) RecordStatusChange(status string) {
	m.statusChanges = append(m.statusChanges, status)
}

func (m *mockRecorder) SetLicenseCounts(active, suspended int) {
	m.active, m.suspended = active, suspended
}

func (m *mockRecorder) RecordRefresh(err error) {
	m.refreshes++
	if err != nil {
		m.refreshErrs++
	}
}

func fixtureStore() *mockStore {
	reason := "suspended"
	return &mockStore{
		licenses: []*models.License{
			{LicenseKey: "LIC-1", ClientID: "acme", Status: models.LicenseStatusActive, ExpiresAt: "2030-01-01"},
			{LicenseKey: "LIC-2", ClientID: "acme", Status: models.LicenseStatusSuspended, ExpiresAt: "2030-01-01"},
			{LicenseKey: "LIC-dev", ClientID: "internal", Status: models.LicenseStatusActive, ExpiresAt: "2099-01-01"},
		},
		events: []*models.VerificationEvent{
			{ID: 3, Allowed: true},
			{ID: 2, Allowed: false, Reason: &reason},
			{ID: 1, Allowed: true},
		},
	}
}

func newTestDashboard(store *mockStore, rec *mockRecorder) *Dashboard {
	cfg := DashboardConfig{
		Store:  store,
		Clock:  func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
		Logger: zerolog.Nop(),
	}
	if rec != nil {
		cfg.Recorder = rec
	}
	return NewDashboard(cfg)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, Totals{}, Summarize(nil))
	assert.Equal(t, Totals{Total: 3, Allowed: 2, Denied: 1}, Summarize(fixtureStore().events))
}

func TestDashboard_Refresh(t *testing.T) {
	store := fixtureStore()
	rec := &mockRecorder{}
	d := newTestDashboard(store, rec)

	assert.Nil(t, d.Current())

	snap, err := d.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Licenses, 3)
	assert.Len(t, snap.Events, 3)
	assert.Equal(t, Totals{Total: 3, Allowed: 2, Denied: 1}, snap.Totals)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), snap.RefreshedAt)
	assert.Equal(t, DefaultEventWindow, store.lastFilter.Limit)
	assert.Same(t, snap, d.Current())

	assert.Equal(t, 2, rec.active)
	assert.Equal(t, 1, rec.suspended)
	assert.Equal(t, 1, rec.refreshes)
}

func TestDashboard_RefreshWindow(t *testing.T) {
	store := fixtureStore()
	d := NewDashboard(DashboardConfig{Store: store, EventWindow: 2, Logger: zerolog.Nop()})

	snap, err := d.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Events, 2)
	assert.Equal(t, 2, snap.Totals.Total)
	assert.Equal(t, int64(3), snap.Events[0].ID)
}

func TestDashboard_RefreshErrorKeepsPrevious(t *testing.T) {
	store := fixtureStore()
	rec := &mockRecorder{}
	d := newTestDashboard(store, rec)

	first, err := d.Refresh(context.Background())
	require.NoError(t, err)

	store.eventsErr = errors.New("db down")
	_, err = d.Refresh(context.Background())
	require.Error(t, err)
	assert.Same(t, first, d.Current())
	assert.Equal(t, 1, rec.refreshErrs)

	store.eventsErr = nil
	store.listErr = errors.New("db down")
	_, err = d.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "list licenses")
}

func TestDashboard_EmptyStores(t *testing.T) {
	d := newTestDashboard(&mockStore{}, nil)

	snap, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, snap.Licenses)
	assert.NotNil(t, snap.Events)
	assert.Equal(t, Totals{}, snap.Totals)
}

func TestDashboard_SnapshotLazyRefresh(t *testing.T) {
	store := fixtureStore()
	d := newTestDashboard(store, nil)

	_, err := d.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = d.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, store.listCalls)
}

func TestDashboard_SetStatus(t *testing.T) {
	store := fixtureStore()
	rec := &mockRecorder{}
	d := newTestDashboard(store, rec)
	ctx := context.Background()

	change, err := d.SetStatus(ctx, "LIC-1", models.LicenseStatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, "LIC-1", change.LicenseKey)
	assert.Equal(t, models.LicenseStatusSuspended, change.Status)
	assert.Equal(t, "LIC-1 is now SUSPENDED", change.Message)
	assert.Equal(t, []string{"suspended"}, rec.statusChanges)

	snap := d.Current()
	require.NotNil(t, snap)
	assert.Equal(t, models.LicenseStatusSuspended, snap.Licenses[0].Status)
	assert.Equal(t, 1, rec.active)
	assert.Equal(t, 2, rec.suspended)
}

func TestDashboard_SetStatusErrors(t *testing.T) {
	store := fixtureStore()
	d := newTestDashboard(store, nil)
	ctx := context.Background()

	_, err := d.SetStatus(ctx, "LIC-1", "paused")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
	assert.Equal(t, 0, store.statusCalls)

	_, err = d.SetStatus(ctx, "LIC-nope", models.LicenseStatusActive)
	assert.ErrorIs(t, err, models.ErrLicenseNotFound)

	store.setErr = errors.New("read-only")
	_, err = d.SetStatus(ctx, "LIC-1", models.LicenseStatusActive)
	assert.ErrorContains(t, err, "read-only")
}

func TestDashboard_SetStatusSurvivesRefreshFailure(t *testing.T) {
	store := fixtureStore()
	store.eventsErr = errors.New("slow disk")
	d := newTestDashboard(store, nil)

	change, err := d.SetStatus(context.Background(), "LIC-2", models.LicenseStatusActive)
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusActive, change.Status)
	assert.Equal(t, models.LicenseStatusActive, store.licenses[1].Status)
}

func TestDashboard_SetStatusIsIdempotent(t *testing.T) {
	store := fixtureStore()
	d := newTestDashboard(store, nil)
	ctx := context.Background()

	_, err := d.Refresh(ctx)
	require.NoError(t, err)

	// Two operators press Suspend on the same stale page.
	for i := 0; i < 2; i++ {
		change, err := d.SetStatus(ctx, "LIC-1", models.LicenseStatusSuspended)
		require.NoError(t, err)
		assert.Equal(t, models.LicenseStatusSuspended, change.Status)
		assert.Equal(t, "LIC-1 is now SUSPENDED", change.Message)
	}

	assert.Equal(t, models.LicenseStatusSuspended, store.licenses[0].Status)
	snap := d.Current()
	require.NotNil(t, snap)
	assert.Equal(t, models.LicenseStatusSuspended, snap.Licenses[0].Status)
}
