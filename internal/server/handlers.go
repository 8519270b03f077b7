package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/musikundkultur/wohnzimmer/internal/calendar"
	"github.com/musikundkultur/wohnzimmer/internal/config"
)

// indexData is the template context for the events page.
type indexData struct {
	Site   config.SiteConfig
	Years  []calendar.YearGroup
	Stale  bool
	AgeMin int
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{Site: s.cfg.Site}

	// The page renders whatever the cache holds. No snapshot yet (cold
	// start or every sync failed so far) shows the neutral empty state.
	if snap, age, ok := s.cache.Current(); ok {
		now := time.Now()
		window := calendar.TimeRange{
			From: now.Add(-s.cfg.Calendar.Lookbehind),
			To:   now.Add(s.cfg.Calendar.Horizon),
		}
		data.Years = calendar.ByYear(snap.EventsBetween(window))

		stale := false
		if threshold := s.cfg.Calendar.StalenessThreshold; threshold > 0 && age > threshold {
			stale = true
		}
		// A snapshot whose fetched window no longer contains the current
		// time cannot answer "what is on now" at all, however recent it is.
		if !snap.Window.IsZero() && !snap.Window.Contains(now) {
			stale = true
		}
		if stale {
			data.Stale = true
			data.AgeMin = int(age.Minutes())
		}
	}

	s.render(w, "index.html", data)
}

func (s *Server) handleImprint(w http.ResponseWriter, r *http.Request) {
	s.render(w, "imprint.html", indexData{Site: s.cfg.Site})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("template render failed", "template", name, "error", err)
	}
}

// healthzResponse is the readiness payload.
type healthzResponse struct {
	Status   string          `json:"status"`
	Calendar calendar.Health `json:"calendar"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	health := s.cache.Health()

	// Config errors need an operator; everything else degrades to
	// serving the last snapshot.
	status := "ok"
	switch {
	case health.ConfigError:
		status = "error"
	case !health.HasSnapshot && health.ConsecutiveFailures > 0:
		status = "error"
	case !health.HasSnapshot:
		status = "starting"
	case health.ConsecutiveFailures > 0:
		status = "degraded"
	}

	code := http.StatusOK
	if status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthzResponse{Status: status, Calendar: health})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		http.Error(w, "sync not running", http.StatusServiceUnavailable)
		return
	}
	s.refresher.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refresh requested"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
