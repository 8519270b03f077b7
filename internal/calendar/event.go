package calendar

import (
	"sort"
	"time"
)

// Event is the calendar-independent representation of a single occurrence.
// All sources (static config, Google Calendar, ICS feeds) must translate
// their records into this format.
type Event struct {
	// Unique ID (provided by the source). Used for deduplication and to
	// keep sort order stable when two events start at the same time.
	ID string
	// Display title, never empty.
	Title string
	// Timing. End is the zero time for all-day and open-ended entries.
	Start  time.Time
	End    time.Time
	AllDay bool
	// Details
	Location    string
	Description string
}

// Duration returns the length of the event, or zero if it has no end.
func (e Event) Duration() time.Duration {
	if e.End.IsZero() {
		return 0
	}
	return e.End.Sub(e.Start)
}

// Overlaps reports whether the event touches the half-open range r.
// Open-ended events are treated as points at their start time.
func (e Event) Overlaps(r TimeRange) bool {
	end := e.End
	if end.IsZero() {
		end = e.Start
	}
	return e.Start.Before(r.To) && !end.Before(r.From)
}

// SortEvents orders events ascending by start time, ties broken by ID so
// that the result is deterministic regardless of source order.
func SortEvents(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].ID < events[j].ID
		}
		return events[i].Start.Before(events[j].Start)
	})
}

// DedupeEvents removes events that share an ID, keeping the first
// occurrence. The input order is preserved.
func DedupeEvents(events []Event) []Event {
	seen := make(map[string]struct{}, len(events))
	result := events[:0:0]
	for _, ev := range events {
		if ev.ID != "" {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
		}
		result = append(result, ev)
	}
	return result
}

// YearGroup holds the events of a single year, in start-time order.
type YearGroup struct {
	Year   int
	Events []Event
}

// ByYear groups sorted events into per-year buckets for rendering. Years
// appear in the order their first event does, so the groups stay sorted
// as long as the input is.
func ByYear(events []Event) []YearGroup {
	var groups []YearGroup
	index := make(map[int]int)
	for _, ev := range events {
		year := ev.Start.Year()
		i, ok := index[year]
		if !ok {
			i = len(groups)
			index[year] = i
			groups = append(groups, YearGroup{Year: year})
		}
		groups[i].Events = append(groups[i].Events, ev)
	}
	return groups
}
