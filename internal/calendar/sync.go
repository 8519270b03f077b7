package calendar

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/musikundkultur/wohnzimmer/internal/metrics"
)

// SyncConfig tunes the periodic sync loop.
type SyncConfig struct {
	// Interval between syncs after a success.
	Interval time.Duration
	// Horizon is how far into the future events are fetched.
	Horizon time.Duration
	// Lookbehind is how far into the past events are fetched, so that
	// recently started events stay on the page.
	Lookbehind time.Duration
	// FetchTimeout bounds a single fetch attempt including all pages and
	// token refreshes.
	FetchTimeout time.Duration
	// InitialBackoff is the delay after the first failure; it doubles on
	// every further consecutive failure.
	InitialBackoff time.Duration
	// MaxBackoff caps the retry delay. Config errors jump straight to it.
	MaxBackoff time.Duration
	// JitterPercent randomizes retry delays by up to +/- this percentage
	// to avoid hammering the remote API in lockstep.
	JitterPercent uint64
}

func (c *SyncConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Horizon <= 0 {
		c.Horizon = 6 * 30 * 24 * time.Hour
	}
	if c.Lookbehind < 0 {
		c.Lookbehind = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 30 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
}

// Syncer drives the periodic refresh of a Cache from a Source. It owns
// the only fetch that is ever in flight and the only write path into the
// cache; page handlers read the cache and never touch the source.
type Syncer struct {
	source Source
	cache  *Cache
	cfg    SyncConfig
	logger *slog.Logger

	refreshc chan struct{}
	backoff  retry.Backoff
	now      func() time.Time
}

// NewSyncer creates a Syncer. Call Run to start the loop.
func NewSyncer(source Source, cache *Cache, cfg SyncConfig, logger *slog.Logger) *Syncer {
	cfg.applyDefaults()
	s := &Syncer{
		source:   source,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
		refreshc: make(chan struct{}, 1),
		now:      time.Now,
	}
	s.backoff = s.newBackoff()
	return s
}

// Refresh requests an immediate sync attempt. A request made while a
// fetch is already in flight is coalesced into a no-op; a request made
// during a backoff wait skips the remaining delay.
func (s *Syncer) Refresh() {
	select {
	case s.refreshc <- struct{}{}:
	default:
	}
}

// Run executes the sync loop until ctx is cancelled. The first sync
// happens immediately. Failures never escape this loop; they only show up
// as staleness and in the cache's health state.
func (s *Syncer) Run(ctx context.Context) {
	s.logger.Info("starting calendar sync", "interval", s.cfg.Interval, "horizon", s.cfg.Horizon)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping calendar sync")
			return
		case <-timer.C:
		case <-s.refreshc:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		delay := s.SyncOnce(ctx)
		if ctx.Err() != nil {
			s.logger.Info("stopping calendar sync")
			return
		}

		// Drop refresh requests that arrived while fetching; the result
		// they asked for was just produced.
		select {
		case <-s.refreshc:
		default:
		}

		timer.Reset(delay)
	}
}

// SyncOnce performs a single fetch attempt and returns the delay until
// the next one: the base interval after a success, a backoff delay after
// a failure.
func (s *Syncer) SyncOnce(ctx context.Context) time.Duration {
	start := s.now()
	window := TimeRange{From: start.Add(-s.cfg.Lookbehind), To: start.Add(s.cfg.Horizon)}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	events, err := s.source.Fetch(fetchCtx, window)
	cancel()

	elapsed := s.now().Sub(start)

	if err != nil {
		if ctx.Err() != nil {
			// Shutdown during fetch: abandon the attempt without
			// recording anything, never publish partial data.
			return s.cfg.Interval
		}
		s.cache.RecordFailure(err)
		metrics.ObserveSync(metrics.SyncError, elapsed, s.now())
		metrics.SetConsecutiveFailures(s.cache.ConsecutiveFailures())

		delay := s.nextDelay(err)
		s.logger.Error("calendar sync failed",
			"error", err,
			"kind", KindOf(err).String(),
			"consecutive_failures", s.cache.ConsecutiveFailures(),
			"retry_in", delay)
		return delay
	}

	events = DedupeEvents(events)
	SortEvents(events)

	s.cache.Publish(&Snapshot{
		Events:    events,
		FetchedAt: s.now(),
		Window:    window,
	})
	s.backoff = s.newBackoff()

	metrics.ObserveSync(metrics.SyncSuccess, elapsed, s.now())
	metrics.SetEventCount(len(events))
	metrics.SetConsecutiveFailures(0)

	s.logger.Debug("calendar sync succeeded", "events", len(events), "duration", elapsed)
	return s.cfg.Interval
}

// nextDelay computes the wait before the next attempt after a failure.
func (s *Syncer) nextDelay(err error) time.Duration {
	if IsConfig(err) {
		// A bad calendar id will not fix itself; retry at the cap only.
		return s.cfg.MaxBackoff
	}
	delay, _ := s.backoff.Next()
	return delay
}

func (s *Syncer) newBackoff() retry.Backoff {
	b := retry.NewExponential(s.cfg.InitialBackoff)
	if s.cfg.JitterPercent > 0 {
		b = retry.WithJitterPercent(s.cfg.JitterPercent, b)
	}
	return retry.WithCappedDuration(s.cfg.MaxBackoff, b)
}
