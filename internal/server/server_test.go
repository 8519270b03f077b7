package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/musikundkultur/wohnzimmer/internal/calendar"
	"github.com/musikundkultur/wohnzimmer/internal/config"
)

type fakeRefresher struct {
	calls int
}

func (f *fakeRefresher) Refresh() { f.calls++ }

func testConfig() *config.Config {
	return &config.Config{
		Site: config.SiteConfig{Title: "Wohnzimmer", Tagline: "Musik & Kultur"},
		Calendar: config.CalendarConfig{
			TimeZone:           "UTC",
			Lookbehind:         30 * 24 * time.Hour,
			Horizon:            180 * 24 * time.Hour,
			StalenessThreshold: time.Hour,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, cache *calendar.Cache, refresher Refresher) *Server {
	t.Helper()
	srv, err := New(cfg, cache, refresher, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatal(err)
	}
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestIndexWithoutSnapshot(t *testing.T) {
	srv := newTestServer(t, testConfig(), calendar.NewCache(), nil)

	rec := get(t, srv.Handler(), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "keine Veranstaltungen") {
		t.Error("empty cache should render the neutral no-events state")
	}
}

func TestIndexRendersEvents(t *testing.T) {
	cache := calendar.NewCache()
	start := time.Now().Add(24 * time.Hour)
	cache.Publish(&calendar.Snapshot{
		Events: []calendar.Event{
			{ID: "e1", Title: "Jazz Night", Start: start, Location: "Main Hall"},
		},
		FetchedAt: time.Now(),
	})

	srv := newTestServer(t, testConfig(), cache, nil)
	rec := get(t, srv.Handler(), "/")

	body := rec.Body.String()
	if !strings.Contains(body, "Jazz Night") {
		t.Error("event title missing from page")
	}
	if !strings.Contains(body, start.Format("2006")) {
		t.Error("year heading missing from page")
	}
	if strings.Contains(body, "nicht mehr aktuell") {
		t.Error("fresh snapshot should not show the staleness notice")
	}
}

func TestIndexShowsStalenessNotice(t *testing.T) {
	cache := calendar.NewCache()
	cache.Publish(&calendar.Snapshot{
		Events:    []calendar.Event{{ID: "e1", Title: "Jazz Night", Start: time.Now().Add(24 * time.Hour)}},
		FetchedAt: time.Now().Add(-2 * time.Hour),
	})

	srv := newTestServer(t, testConfig(), cache, nil)
	rec := get(t, srv.Handler(), "/")

	if !strings.Contains(rec.Body.String(), "nicht mehr aktuell") {
		t.Error("stale snapshot should show the staleness notice")
	}
}

func TestIndexStaleWhenWindowDriftsPast(t *testing.T) {
	// FetchedAt lies, but the recorded window gives the snapshot away:
	// it ends before now, so the events on the page predate the outage.
	cache := calendar.NewCache()
	cache.Publish(&calendar.Snapshot{
		Events:    []calendar.Event{{ID: "e1", Title: "Jazz Night", Start: time.Now().Add(-48 * time.Hour)}},
		FetchedAt: time.Now(),
		Window: calendar.TimeRange{
			From: time.Now().Add(-96 * time.Hour),
			To:   time.Now().Add(-24 * time.Hour),
		},
	})

	srv := newTestServer(t, testConfig(), cache, nil)
	rec := get(t, srv.Handler(), "/")

	if !strings.Contains(rec.Body.String(), "nicht mehr aktuell") {
		t.Error("snapshot window ending in the past should show the staleness notice")
	}
}

func TestIndexNeverTouchesSource(t *testing.T) {
	// A page render must complete quickly from cache even when syncing
	// is broken; there is nothing to block on.
	cache := calendar.NewCache()
	cache.RecordFailure(errors.New("source is down"))

	srv := newTestServer(t, testConfig(), cache, nil)

	start := time.Now()
	rec := get(t, srv.Handler(), "/")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("render took %v", elapsed)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, sync failures must not break the page", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(c *calendar.Cache)
		wantStatus string
		wantCode   int
	}{
		{"cold start", func(c *calendar.Cache) {}, "starting", http.StatusOK},
		{"healthy", func(c *calendar.Cache) {
			c.Publish(&calendar.Snapshot{FetchedAt: time.Now()})
		}, "ok", http.StatusOK},
		{"degraded", func(c *calendar.Cache) {
			c.Publish(&calendar.Snapshot{FetchedAt: time.Now()})
			c.RecordFailure(errors.New("flaky"))
		}, "degraded", http.StatusOK},
		{"never synced and failing", func(c *calendar.Cache) {
			c.RecordFailure(errors.New("down"))
		}, "error", http.StatusServiceUnavailable},
		{"config error", func(c *calendar.Cache) {
			c.Publish(&calendar.Snapshot{FetchedAt: time.Now()})
			c.RecordFailure(calendar.NewSourceError(calendar.KindConfig, "fetch", errors.New("bad id")))
		}, "error", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := calendar.NewCache()
			tt.setup(cache)
			srv := newTestServer(t, testConfig(), cache, nil)

			rec := get(t, srv.Handler(), "/healthz")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var resp healthzResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", resp.Status, tt.wantStatus)
			}
		})
	}
}

func TestRefreshEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Admin.Token = "admin-token"
	refresher := &fakeRefresher{}
	srv := newTestServer(t, cfg, calendar.NewCache(), refresher)
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/admin/refresh", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: code = %d, want 401", rec.Code)
	}
	if refresher.calls != 0 {
		t.Error("unauthorized request must not trigger a refresh")
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/refresh", nil)
	req.Header.Set("Authorization", "Bearer admin-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Errorf("with token: code = %d, want 202", rec.Code)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher calls = %d, want 1", refresher.calls)
	}
}

func TestRefreshWithoutSyncer(t *testing.T) {
	srv := newTestServer(t, testConfig(), calendar.NewCache(), nil)

	req := httptest.NewRequest(http.MethodPost, "/admin/refresh", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Token = "metrics-token"
	srv := newTestServer(t, cfg, calendar.NewCache(), nil)
	handler := srv.Handler()

	rec := get(t, handler, "/metrics")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without token: code = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer metrics-token")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with token: code = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wohnzimmer_calendar") {
		t.Error("metrics page should expose calendar metrics")
	}
}

func TestMetricsDisabled(t *testing.T) {
	srv := newTestServer(t, testConfig(), calendar.NewCache(), nil)

	rec := get(t, srv.Handler(), "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404 when disabled", rec.Code)
	}
}
