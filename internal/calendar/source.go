package calendar

import (
	"context"
	"time"
)

// TimeRange is a half-open time window: From is inclusive, To exclusive.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

// IsZero reports whether the range is unset.
func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Source represents a source of calendar events (static config, Google
// Calendar, ICS feed, etc).
type Source interface {
	// Fetch returns every event overlapping the given window, translated
	// into the Event representation. It blocks until done or the context
	// is cancelled. At most one Fetch per Source is in flight at a time;
	// implementations need not be safe for concurrent use with themselves.
	Fetch(ctx context.Context, window TimeRange) ([]Event, error)
}

// StaticSource serves events declared in the application configuration.
// It performs no I/O and never fails; a window with no events simply
// yields an empty result.
type StaticSource struct {
	events []Event
}

// NewStaticSource creates a StaticSource from a fixed event list. The
// list is copied, deduplicated and sorted once up front.
func NewStaticSource(events []Event) *StaticSource {
	owned := make([]Event, len(events))
	copy(owned, events)
	owned = DedupeEvents(owned)
	SortEvents(owned)
	return &StaticSource{events: owned}
}

// Fetch filters the static list by the requested window.
func (s *StaticSource) Fetch(ctx context.Context, window TimeRange) ([]Event, error) {
	var result []Event
	for _, ev := range s.events {
		if ev.Overlaps(window) {
			result = append(result, ev)
		}
	}
	return result, nil
}
