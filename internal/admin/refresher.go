package admin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRefreshInterval matches the dashboard auto-refresh period.
const DefaultRefreshInterval = 10 * time.Second

// Refresher rebuilds the dashboard snapshot on a fixed interval.
type Refresher struct {
	dashboard *Dashboard
	interval  time.Duration
	timeout   time.Duration
	cron      *cron.Cron
	logger    zerolog.Logger
	mu        sync.Mutex
	running   bool
	entry     cron.EntryID
}

// NewRefresher creates a Refresher. A non-positive interval uses DefaultRefreshInterval.
func NewRefresher(dashboard *Dashboard, interval time.Duration, logger zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	l := logger.With().Str("component", "dashboard_refresher").Logger()
	return &Refresher{
		dashboard: dashboard,
		interval:  interval,
		timeout:   interval,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:    l,
	}
}

// Interval returns the refresh period.
func (r *Refresher) Interval() time.Duration {
	return r.interval
}

// Start loads an initial snapshot and schedules periodic refreshes.
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("dashboard refresher already running")
	}

	entry, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.interval), r.runRefresh)
	if err != nil {
		return fmt.Errorf("schedule dashboard refresh: %w", err)
	}
	r.entry = entry

	r.runRefresh()
	r.cron.Start()
	r.running = true

	r.logger.Info().Dur("interval", r.interval).Msg("dashboard refresher started")
	return nil
}

// Stop halts scheduling and removes the refresh entry so a later Start
// schedules exactly one. The returned context is done once a running refresh
// finishes.
func (r *Refresher) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}

	r.running = false
	r.logger.Info().Msg("stopping dashboard refresher")
	ctx := r.cron.Stop()
	r.cron.Remove(r.entry)
	return ctx
}

// RunNow refreshes immediately on the caller's goroutine.
func (r *Refresher) RunNow() {
	r.runRefresh()
}

func (r *Refresher) runRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	snap, err := r.dashboard.Refresh(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("dashboard refresh failed")
		return
	}

	r.logger.Debug().
		Int("licenses", len(snap.Licenses)).
		Int("events", snap.Totals.Total).
		Int("denied", snap.Totals.Denied).
		Msg("dashboard refreshed")
}
