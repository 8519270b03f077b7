// Package server provides the public website and the operational HTTP
// surface. Page handlers only ever read the event cache; they never talk
// to an event source and never block on network I/O.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/musikundkultur/wohnzimmer/internal/calendar"
	"github.com/musikundkultur/wohnzimmer/internal/config"
)

//go:embed templates/*.html
var templateFS embed.FS

// Refresher triggers an out-of-band sync attempt.
type Refresher interface {
	Refresh()
}

// Server serves the website, health and metrics endpoints.
type Server struct {
	cfg       *config.Config
	cache     *calendar.Cache
	refresher Refresher
	logger    *slog.Logger
	tmpl      *template.Template
	loc       *time.Location
}

// New creates a Server reading from cache. refresher may be nil, in
// which case the manual refresh endpoint responds 503.
func New(cfg *config.Config, cache *calendar.Cache, refresher Refresher, logger *slog.Logger) (*Server, error) {
	loc, err := cfg.Calendar.Location()
	if err != nil {
		return nil, err
	}

	tmpl := template.New("").Funcs(template.FuncMap{
		"eventDate": func(ev calendar.Event) string {
			if ev.AllDay {
				return ev.Start.In(loc).Format("2. January")
			}
			return ev.Start.In(loc).Format("2. January, 15:04")
		},
	})
	tmpl, err = tmpl.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	return &Server{
		cfg:       cfg,
		cache:     cache,
		refresher: refresher,
		logger:    logger,
		tmpl:      tmpl,
		loc:       loc,
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /impressum", s.handleImprint)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /admin/refresh", bearerAuth(s.cfg.Admin.Token, s.handleRefresh))

	if s.cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", bearerAuth(s.cfg.Metrics.Token, promhttp.Handler().ServeHTTP))
	}

	if dir := s.cfg.Server.StaticDir; dir != "" {
		if _, err := os.Stat(dir); err == nil {
			mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(dir))))
		}
	}

	var handler http.Handler = mux
	handler = Recover(s.logger)(handler)
	handler = RequestLogger(s.logger)(handler)
	return handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
