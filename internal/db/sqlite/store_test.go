package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MacJediWizard/licensegate/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "licenses.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(s string) *string { return &s }

func TestStore_Licenses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.EnsureLicense(ctx, models.NewLicense("LIC-dev", "internal", "2099-01-01"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureLicense(ctx, models.NewLicense("LIC-dev", "someone-else", "1999-01-01"))
	require.NoError(t, err)
	assert.False(t, created)

	got, err := s.GetLicense(ctx, "LIC-dev")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "internal", got.ClientID)
	assert.Equal(t, "2099-01-01", got.ExpiresAt)
	assert.Equal(t, models.LicenseStatusActive, got.Status)

	missing, err := s.GetLicense(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.SetLicenseStatus(ctx, "LIC-dev", models.LicenseStatusSuspended))
	got, err = s.GetLicense(ctx, "LIC-dev")
	require.NoError(t, err)
	assert.Equal(t, models.LicenseStatusSuspended, got.Status)

	assert.ErrorIs(t, s.SetLicenseStatus(ctx, "nope", models.LicenseStatusActive), models.ErrLicenseNotFound)
	assert.ErrorIs(t, s.SetLicenseStatus(ctx, "LIC-dev", "paused"), models.ErrInvalidStatus)
}

func TestStore_ListLicensesOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, l := range []*models.License{
		models.NewLicense("LIC-3", "zeta", "2030-01-01"),
		models.NewLicense("LIC-2", "alpha", "2030-01-01"),
		models.NewLicense("LIC-1", "alpha", "2030-01-01"),
	} {
		_, err := s.EnsureLicense(ctx, l)
		require.NoError(t, err)
	}

	list, err := s.ListLicenses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "LIC-1", list[0].LicenseKey)
	assert.Equal(t, "LIC-2", list[1].LicenseKey)
	assert.Equal(t, "LIC-3", list[2].LicenseKey)
}

func TestStore_VerificationEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 4, 5, 6, 7, 890, time.UTC)

	id1, err := s.AppendVerificationEvent(ctx, &models.VerificationEvent{
		Timestamp:         ts,
		LicenseKey:        ptr("LIC-dev"),
		ClientID:          ptr("internal"),
		WorkflowID:        ptr("wf-1"),
		ContextIdentifier: ptr("+15550001111"),
		Allowed:           true,
	})
	require.NoError(t, err)

	id2, err := s.AppendVerificationEvent(ctx, &models.VerificationEvent{
		Timestamp: ts.Add(time.Second),
		Allowed:   false,
		Reason:    ptr("invalid_license"),
	})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	events, err := s.ListRecentVerificationEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, id2, events[0].ID)
	assert.Nil(t, events[0].LicenseKey)
	assert.Nil(t, events[0].WorkflowID)
	assert.False(t, events[0].Allowed)
	assert.Equal(t, "invalid_license", *events[0].Reason)

	first := events[1]
	assert.Equal(t, id1, first.ID)
	assert.True(t, first.Timestamp.Equal(ts))
	assert.Equal(t, "LIC-dev", *first.LicenseKey)
	assert.Equal(t, "internal", *first.ClientID)
	assert.Equal(t, "wf-1", *first.WorkflowID)
	assert.Equal(t, "+15550001111", *first.ContextIdentifier)
	assert.True(t, first.Allowed)
	assert.Nil(t, first.Reason)
}

func TestStore_EventFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 10; i++ {
		e := &models.VerificationEvent{Timestamp: now, ClientID: ptr("acme"), Allowed: i%3 != 0}
		if i%2 == 0 {
			e.LicenseKey = ptr("LIC-even")
		} else {
			e.LicenseKey = ptr("LIC-odd")
		}
		if !e.Allowed {
			e.Reason = ptr("expired")
		}
		_, err := s.AppendVerificationEvent(ctx, e)
		require.NoError(t, err)
	}

	page, err := s.ListRecentVerificationEvents(ctx, models.EventFilter{Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(10), page[0].ID)

	page, err = s.ListRecentVerificationEvents(ctx, models.EventFilter{Offset: 8})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(2), page[0].ID)

	denied := false
	events, err := s.ListRecentVerificationEvents(ctx, models.EventFilter{Allowed: &denied})
	require.NoError(t, err)
	assert.Len(t, events, 4)

	count, err := s.CountVerificationEvents(ctx, models.EventFilter{LicenseKey: "LIC-even"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	count, err = s.CountVerificationEvents(ctx, models.EventFilter{ClientID: "other"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestStore_ConcurrentAppend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendVerificationEvent(ctx, &models.VerificationEvent{Timestamp: time.Now(), Allowed: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := s.CountVerificationEvents(ctx, models.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(workers), count)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "licenses.db")
	ctx := context.Background()

	s, err := Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	_, err = s.EnsureLicense(ctx, models.NewLicense("LIC-dev", "internal", "2099-01-01"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetLicense(ctx, "LIC-dev")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "sqlite", s.Health()["driver"])
	assert.NoError(t, s.Ping(ctx))
}
