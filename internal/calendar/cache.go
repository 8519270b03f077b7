package calendar

import (
	"sync"
	"time"
)

// Snapshot is an immutable, internally consistent set of events plus the
// time it was fetched. Once published it must not be modified; a newer
// snapshot replaces it wholesale.
type Snapshot struct {
	// Events sorted ascending by start time, ties broken by ID.
	Events []Event
	// FetchedAt is the time of the successful fetch that produced the
	// snapshot.
	FetchedAt time.Time
	// Window is the time range that was requested from the source.
	Window TimeRange
}

// EventsBetween returns the snapshot's events overlapping the half-open
// window, preserving order.
func (s *Snapshot) EventsBetween(window TimeRange) []Event {
	var result []Event
	for _, ev := range s.Events {
		if ev.Overlaps(window) {
			result = append(result, ev)
		}
	}
	return result
}

// Health describes the sync state of a cache for readiness reporting.
type Health struct {
	HasSnapshot         bool      `json:"has_snapshot"`
	LastSync            time.Time `json:"last_sync,omitempty"`
	Staleness           float64   `json:"staleness_seconds"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	ConfigError         bool      `json:"config_error,omitempty"`
}

// Cache holds the current best-known event list. It has exactly one
// writer (the Syncer) and any number of concurrent readers; readers never
// observe a partially published snapshot and are never blocked beyond the
// pointer swap. Current performs no I/O and never waits on a sync in
// progress.
type Cache struct {
	mu       sync.RWMutex
	snapshot *Snapshot
	failures int
	lastErr  error

	// now is replaceable in tests.
	now func() time.Time
}

// NewCache creates an empty cache. It stays empty until the first
// successful fetch is published.
func NewCache() *Cache {
	return &Cache{now: time.Now}
}

// Current returns the last published snapshot and its age, or ok=false if
// no successful fetch has ever happened.
func (c *Cache) Current() (snap *Snapshot, age time.Duration, ok bool) {
	c.mu.RLock()
	snap = c.snapshot
	c.mu.RUnlock()
	if snap == nil {
		return nil, 0, false
	}
	return snap, c.now().Sub(snap.FetchedAt), true
}

// Publish atomically replaces the current snapshot and resets the failure
// counter. The caller hands over ownership of snap and must not mutate it
// afterwards.
func (c *Cache) Publish(snap *Snapshot) {
	c.mu.Lock()
	c.snapshot = snap
	c.failures = 0
	c.lastErr = nil
	c.mu.Unlock()
}

// RecordFailure notes a failed sync attempt. The existing snapshot, if
// any, is kept and continues to be served.
func (c *Cache) RecordFailure(err error) {
	c.mu.Lock()
	c.failures++
	c.lastErr = err
	c.mu.Unlock()
}

// ConsecutiveFailures returns the number of failed attempts since the
// last successful publish.
func (c *Cache) ConsecutiveFailures() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failures
}

// Health reports the cache's sync state for the readiness endpoint.
func (c *Cache) Health() Health {
	c.mu.RLock()
	snap := c.snapshot
	failures := c.failures
	lastErr := c.lastErr
	c.mu.RUnlock()

	h := Health{ConsecutiveFailures: failures}
	if snap != nil {
		h.HasSnapshot = true
		h.LastSync = snap.FetchedAt
		h.Staleness = c.now().Sub(snap.FetchedAt).Seconds()
	}
	if lastErr != nil {
		h.LastError = lastErr.Error()
		h.ConfigError = IsConfig(lastErr)
	}
	return h
}
