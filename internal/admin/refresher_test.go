package admin

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRefresher_DefaultInterval(t *testing.T) {
	r := NewRefresher(newTestDashboard(fixtureStore(), nil), 0, zerolog.Nop())
	assert.Equal(t, DefaultRefreshInterval, r.Interval())

	r = NewRefresher(newTestDashboard(fixtureStore(), nil), 3*time.Second, zerolog.Nop())
	assert.Equal(t, 3*time.Second, r.Interval())
}

func TestRefresher_StartLoadsSnapshot(t *testing.T) {
	store := fixtureStore()
	d := newTestDashboard(store, nil)
	r := NewRefresher(d, time.Hour, zerolog.Nop())

	require.NoError(t, r.Start())
	defer r.Stop()

	require.NotNil(t, d.Current())
	assert.Len(t, d.Current().Licenses, 3)

	assert.Error(t, r.Start(), "second Start must fail")
}

func TestRefresher_RunNow(t *testing.T) {
	store := fixtureStore()
	d := newTestDashboard(store, nil)
	r := NewRefresher(d, time.Hour, zerolog.Nop())

	r.RunNow()
	r.RunNow()
	assert.Equal(t, 2, store.listCalls)
}

func TestRefresher_PeriodicRefresh(t *testing.T) {
	store := fixtureStore()
	d := newTestDashboard(store, nil)
	r := NewRefresher(d, time.Second, zerolog.Nop())

	require.NoError(t, r.Start())
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.listCalls >= 2
	}, 5*time.Second, 50*time.Millisecond)

	ctx := r.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestRefresher_StopWhenNotRunning(t *testing.T) {
	r := NewRefresher(newTestDashboard(fixtureStore(), nil), time.Hour, zerolog.Nop())
	ctx := r.Stop()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestRefresher_RestartSchedulesOnce(t *testing.T) {
	r := NewRefresher(newTestDashboard(fixtureStore(), nil), time.Hour, zerolog.Nop())

	require.NoError(t, r.Start())
	assert.Len(t, r.cron.Entries(), 1)
	<-r.Stop().Done()
	assert.Empty(t, r.cron.Entries())

	require.NoError(t, r.Start())
	defer r.Stop()
	assert.Len(t, r.cron.Entries(), 1)
}
