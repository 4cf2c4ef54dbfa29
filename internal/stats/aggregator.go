// Package stats polls the upstream aggregate statistics endpoint and keeps
// the latest normalised snapshot, falling back to synthetic data on a cold
// start failure.
package stats

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pilot-tracker/internal/demo"
	"pilot-tracker/internal/flight"
	"pilot-tracker/internal/scheduler"
)

// Cache persists the last real snapshot across restarts.
type Cache interface {
	LoadSnapshot(ctx context.Context) (flight.Snapshot, bool, error)
	StoreSnapshot(ctx context.Context, snap flight.Snapshot) error
}

// State is what consumers observe. Snapshot is nil only before the first
// fetch completes.
type State struct {
	Snapshot  *flight.Snapshot `json:"snapshot"`
	Err       string           `json:"error,omitempty"`
	Fallback  bool             `json:"fallback"`
	UpdatedAt time.Time        `json:"updatedAt"`
	CheckedAt time.Time        `json:"checkedAt"`
}

// Options tune the aggregator.
type Options struct {
	Interval       time.Duration
	MinRefreshGap  time.Duration
	RefreshBurst   int
	RequestTimeout time.Duration
	Now            func() time.Time
}

// Aggregator owns the current snapshot.
type Aggregator struct {
	opts    Options
	fetcher Fetcher
	cache   Cache
	demo    *demo.Generator
	limiter *rate.Limiter
	logger  zerolog.Logger

	fetchMu sync.Mutex
	mu      sync.RWMutex
	state   State
	lastErr error
}

// New builds an aggregator. cache and gen may be nil.
func New(opts Options, fetcher Fetcher, cache Cache, gen *demo.Generator, logger zerolog.Logger) *Aggregator {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.MinRefreshGap <= 0 {
		opts.MinRefreshGap = 5 * time.Second
	}
	if opts.RefreshBurst <= 0 {
		opts.RefreshBurst = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if gen == nil {
		gen = demo.New(demo.Options{Now: opts.Now})
	}
	return &Aggregator{
		opts:    opts,
		fetcher: fetcher,
		cache:   cache,
		demo:    gen,
		limiter: rate.NewLimiter(rate.Every(opts.MinRefreshGap), opts.RefreshBurst),
		logger:  logger.With().Str("component", "stats").Logger(),
	}
}

// Warm seeds memory from the cache, if one is configured and holds data.
func (a *Aggregator) Warm(ctx context.Context) {
	if a.cache == nil {
		return
	}
	snap, ok, err := a.cache.LoadSnapshot(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("读取缓存快照失败")
		return
	}
	if !ok {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Snapshot != nil {
		return
	}
	a.state.Snapshot = &snap
	a.state.UpdatedAt = snap.FetchedAt
	a.logger.Info().Time("fetched_at", snap.FetchedAt).Msg("stats seeded from cache")
}

// Current returns the latest state.
func (a *Aggregator) Current() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.copyLocked()
}

// LastError returns the error of the most recent failed fetch, or nil after a
// success.
func (a *Aggregator) LastError() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastErr
}

// Refresh fetches on demand. Calls arriving faster than the limiter allows
// return the current state without contacting the upstream.
func (a *Aggregator) Refresh(ctx context.Context) State {
	if !a.limiter.Allow() {
		a.logger.Debug().Msg("refresh throttled")
		return a.Current()
	}
	return a.fetch(ctx)
}

// Run polls immediately and then on every interval until ctx ends.
func (a *Aggregator) Run(ctx context.Context) error {
	sched, err := scheduler.New(scheduler.Options{
		Name:           "stats",
		Interval:       a.opts.Interval,
		RunImmediately: true,
	}, a.logger)
	if err != nil {
		return err
	}
	err = sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		a.fetch(ctx)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Aggregator) fetch(ctx context.Context) State {
	a.fetchMu.Lock()
	defer a.fetchMu.Unlock()

	fetchCtx, cancel := context.WithTimeout(ctx, a.opts.RequestTimeout)
	snap, err := a.fetcher.FetchStats(fetchCtx)
	cancel()
	now := a.opts.Now()

	if err != nil {
		return a.recordFailure(err, now)
	}

	snap.Synthetic = false
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = now
	}

	a.mu.Lock()
	a.state = State{Snapshot: &snap, UpdatedAt: now, CheckedAt: now}
	a.lastErr = nil
	st := a.copyLocked()
	a.mu.Unlock()

	a.logger.Info().
		Int64("total_rounds", snap.TotalRounds).
		Float64("average_multiplier", snap.AverageMultiplier).
		Msg("stats snapshot updated")

	if a.cache != nil {
		if err := a.cache.StoreSnapshot(ctx, snap); err != nil {
			a.logger.Warn().Err(err).Msg("写入缓存快照失败")
		}
	}
	return st
}

func (a *Aggregator) recordFailure(err error, now time.Time) State {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastErr = err
	a.state.Err = err.Error()
	a.state.CheckedAt = now
	if a.state.Snapshot == nil {
		synthetic := a.demo.Stats()
		a.state.Snapshot = &synthetic
		a.state.Fallback = true
		a.logger.Warn().Err(err).Msg("stats fetch failed, showing synthetic snapshot")
	} else {
		a.logger.Warn().Err(err).Bool("fallback", a.state.Fallback).Msg("stats fetch failed, keeping last snapshot")
	}
	return a.copyLocked()
}

func (a *Aggregator) copyLocked() State {
	st := a.state
	if st.Snapshot != nil {
		snap := *st.Snapshot
		snap.HourlyStats = append([]flight.HourlyStat(nil), snap.HourlyStats...)
		snap.DailyStats = append([]flight.DailyStat(nil), snap.DailyStats...)
		st.Snapshot = &snap
	}
	return st
}
