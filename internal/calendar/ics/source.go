// Package ics implements a calendar.Source for venues that publish an
// iCalendar feed over HTTP.
package ics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	ical "github.com/arran4/golang-ical"

	"github.com/musikundkultur/wohnzimmer/internal/calendar"
)

// Source fetches and parses a single ICS feed.
type Source struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New creates a Source for the given feed URL.
func New(url string, logger *slog.Logger) (*Source, error) {
	if url == "" {
		return nil, calendar.NewSourceError(calendar.KindConfig, "ics.New", errors.New("feed url is empty"))
	}
	return &Source{
		url:    url,
		client: &http.Client{},
		logger: logger,
	}, nil
}

// Fetch downloads the feed and returns the events overlapping the
// window. Individual VEVENTs that cannot be parsed are skipped with a
// warning; a failed download aborts the whole fetch.
func (s *Source) Fetch(ctx context.Context, window calendar.TimeRange) ([]calendar.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, calendar.NewSourceError(calendar.KindConfig, "ics.Fetch", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, calendar.NewSourceError(calendar.KindTransient, "ics.Fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus("ics.Fetch", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, calendar.NewSourceError(calendar.KindTransient, "ics.Fetch", err)
	}

	return s.parse(body, window)
}

func (s *Source) parse(body []byte, window calendar.TimeRange) ([]calendar.Event, error) {
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, calendar.NewSourceError(calendar.KindConfig, "ics.parse", fmt.Errorf("parse feed: %w", err))
	}

	var events []calendar.Event
	for _, ve := range cal.Events() {
		ev, err := translate(ve)
		if err != nil {
			s.logger.Warn("skipping malformed feed entry", "error", err)
			continue
		}
		if ev.Overlaps(window) {
			events = append(events, ev)
		}
	}
	return events, nil
}

// translate maps one VEVENT onto the unified Event type.
func translate(ve *ical.VEvent) (calendar.Event, error) {
	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return calendar.Event{}, errors.New("missing UID")
	}

	summary := ve.GetProperty(ical.ComponentPropertySummary)
	if summary == nil || summary.Value == "" {
		return calendar.Event{}, errors.New("missing SUMMARY")
	}

	ev := calendar.Event{
		ID:    uid.Value,
		Title: summary.Value,
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		ev.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		ev.Description = p.Value
	}

	ev.AllDay = isAllDay(ve)
	if ev.AllDay {
		start, err := ve.GetAllDayStartAt()
		if err != nil {
			return calendar.Event{}, fmt.Errorf("parse DTSTART: %w", err)
		}
		ev.Start = start
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return calendar.Event{}, fmt.Errorf("parse DTSTART: %w", err)
		}
		ev.Start = start
		if end, err := ve.GetEndAt(); err == nil {
			if end.Before(start) {
				return calendar.Event{}, errors.New("event ends before it starts")
			}
			ev.End = end
		}
	}

	return ev, nil
}

// isAllDay detects date-only DTSTART values, either via the VALUE=DATE
// parameter or a value without a time component.
func isAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func classifyStatus(op string, code int) error {
	err := fmt.Errorf("unexpected status %d", code)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return calendar.NewSourceError(calendar.KindAuth, op, err)
	case code == http.StatusNotFound || code == http.StatusGone:
		return calendar.NewSourceError(calendar.KindConfig, op, err)
	default:
		return calendar.NewSourceError(calendar.KindTransient, op, err)
	}
}
