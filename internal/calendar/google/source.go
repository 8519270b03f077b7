// Package google implements a calendar.Source backed by the Google
// Calendar API, authenticated with a service account.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/musikundkultur/wohnzimmer/internal/calendar"
)

// Config configures a Source.
type Config struct {
	// CalendarID identifies the calendar to query, e.g.
	// "venue@group.calendar.google.com".
	CalendarID string
	// CredentialsJSON is the decoded service-account key file generated
	// in the Google Cloud console.
	CredentialsJSON []byte
	// Location interprets date-only (all-day) values. Defaults to UTC.
	Location *time.Location
	// MaxResults caps the page size. Zero lets the API pick.
	MaxResults int64
}

// Source fetches events from a single Google calendar. Tokens are
// obtained from the service-account credentials and cached by the oauth2
// token source; a fetch that still hits an auth failure rebuilds the
// client with a fresh token and retries once.
type Source struct {
	calendarID string
	loc        *time.Location
	maxResults int64
	logger     *slog.Logger

	// newService exchanges credentials for an authenticated client. Kept
	// as a field so tests can count authentications and redirect the
	// client at a local server.
	newService func(ctx context.Context) (*gcal.Service, error)
	svc        *gcal.Service
}

// New creates a Source from service-account credentials. The credential
// material is validated here; the first token exchange happens lazily on
// the first Fetch.
func New(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.CalendarID == "" {
		return nil, calendar.NewSourceError(calendar.KindConfig, "google.New", errors.New("calendar id is empty"))
	}
	jwtCfg, err := google.JWTConfigFromJSON(cfg.CredentialsJSON, gcal.CalendarReadonlyScope)
	if err != nil {
		return nil, calendar.NewSourceError(calendar.KindConfig, "google.New", fmt.Errorf("parse credentials: %w", err))
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Source{
		calendarID: cfg.CalendarID,
		loc:        loc,
		maxResults: cfg.MaxResults,
		logger:     logger,
		newService: func(ctx context.Context) (*gcal.Service, error) {
			return gcal.NewService(ctx, option.WithTokenSource(jwtCfg.TokenSource(ctx)))
		},
	}, nil
}

// Fetch returns all events overlapping the window, following pagination
// to exhaustion. A failure on any page aborts the whole fetch; malformed
// individual records are skipped with a warning instead.
func (s *Source) Fetch(ctx context.Context, window calendar.TimeRange) ([]calendar.Event, error) {
	svc, err := s.service(ctx)
	if err != nil {
		return nil, err
	}

	events, err := s.fetchPages(ctx, svc, window)
	if err != nil && calendar.IsAuth(err) {
		// The cached token may have expired or been revoked mid-flight.
		// Rebuild the client with a freshly obtained token and retry the
		// whole fetch once before surfacing the error.
		s.logger.Warn("calendar fetch hit an auth error, retrying with fresh token", "error", err)
		s.svc = nil
		svc, serr := s.service(ctx)
		if serr != nil {
			return nil, serr
		}
		events, err = s.fetchPages(ctx, svc, window)
	}
	return events, err
}

func (s *Source) service(ctx context.Context) (*gcal.Service, error) {
	if s.svc != nil {
		return s.svc, nil
	}
	svc, err := s.newService(ctx)
	if err != nil {
		return nil, calendar.NewSourceError(calendar.KindAuth, "google.service", err)
	}
	s.svc = svc
	return svc, nil
}

func (s *Source) fetchPages(ctx context.Context, svc *gcal.Service, window calendar.TimeRange) ([]calendar.Event, error) {
	// The API requires RFC3339 timestamps and expands recurring events
	// server-side when singleEvents is set.
	timeMin := window.From.Format(time.RFC3339)
	timeMax := window.To.Format(time.RFC3339)

	var results []calendar.Event
	pageToken := ""

	for {
		req := svc.Events.List(s.calendarID).
			ShowDeleted(false).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(timeMin).
			TimeMax(timeMax).
			Context(ctx)
		if s.maxResults > 0 {
			req = req.MaxResults(s.maxResults)
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		page, err := req.Do()
		if err != nil {
			return nil, classify("google.Fetch", err)
		}

		for _, item := range page.Items {
			ev, err := s.translate(item)
			if err != nil {
				s.logger.Warn("skipping malformed calendar entry", "id", item.Id, "error", err)
				continue
			}
			results = append(results, ev)
		}

		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return results, nil
}

// translate converts a Google Calendar item into the unified Event type.
func (s *Source) translate(item *gcal.Event) (calendar.Event, error) {
	if item.Status == "cancelled" {
		return calendar.Event{}, errors.New("event is cancelled")
	}
	if item.Summary == "" {
		return calendar.Event{}, errors.New("event has no title")
	}
	if item.Start == nil {
		return calendar.Event{}, errors.New("event has no start time")
	}

	ev := calendar.Event{
		ID:          item.Id,
		Title:       item.Summary,
		Location:    item.Location,
		Description: item.Description,
	}

	switch {
	case item.Start.DateTime != "":
		start, err := time.Parse(time.RFC3339, item.Start.DateTime)
		if err != nil {
			return calendar.Event{}, fmt.Errorf("parse start time: %w", err)
		}
		ev.Start = start
		if item.End != nil && item.End.DateTime != "" {
			end, err := time.Parse(time.RFC3339, item.End.DateTime)
			if err != nil {
				return calendar.Event{}, fmt.Errorf("parse end time: %w", err)
			}
			if end.Before(start) {
				return calendar.Event{}, errors.New("event ends before it starts")
			}
			ev.End = end
		}
	case item.Start.Date != "":
		// All-day events carry a date-only value interpreted in the
		// venue's timezone. Google's end date is exclusive and the
		// display layer only needs the start day, so End stays unset.
		day, err := time.ParseInLocation("2006-01-02", item.Start.Date, s.loc)
		if err != nil {
			return calendar.Event{}, fmt.Errorf("parse all-day date: %w", err)
		}
		ev.Start = day
		ev.AllDay = true
	default:
		return calendar.Event{}, errors.New("event has no start time")
	}

	return ev, nil
}

// classify maps API failures onto the source error taxonomy.
func classify(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return calendar.NewSourceError(calendar.KindAuth, op, err)
		case gerr.Code == http.StatusForbidden:
			// Google also answers 403 for quota problems; those are
			// retryable, real permission errors are not.
			for _, item := range gerr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return calendar.NewSourceError(calendar.KindTransient, op, err)
				}
			}
			return calendar.NewSourceError(calendar.KindAuth, op, err)
		case gerr.Code == http.StatusBadRequest || gerr.Code == http.StatusNotFound:
			return calendar.NewSourceError(calendar.KindConfig, op, err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
			return calendar.NewSourceError(calendar.KindTransient, op, err)
		}
	}
	// Timeouts, cancellations and transport errors.
	return calendar.NewSourceError(calendar.KindTransient, op, err)
}
