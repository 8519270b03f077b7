package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/musikundkultur/wohnzimmer/internal/calendar"
	"github.com/musikundkultur/wohnzimmer/internal/calendar/google"
	"github.com/musikundkultur/wohnzimmer/internal/calendar/ics"
	"github.com/musikundkultur/wohnzimmer/internal/config"
	"github.com/musikundkultur/wohnzimmer/internal/logging"
	"github.com/musikundkultur/wohnzimmer/internal/server"
)

var (
	cfgFile    string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "wohnzimmer",
	Short: "Website of the Musik- und Kulturverein, with a self-refreshing event calendar",
	Long: `wohnzimmer serves the venue's public website. Upcoming events are pulled
from a configurable source (static config, Google Calendar or an ICS
feed) into an in-memory cache by a background sync loop, so page renders
never wait on the calendar API.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config/config.yaml)")
	rootCmd.Flags().StringVar(&listenAddr, "listen-addr", "", "address to listen on (overrides server.listen_addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	source, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	cache := calendar.NewCache()
	syncer := calendar.NewSyncer(source, cache, syncConfig(cfg), logger.With("component", "sync"))

	srv, err := server.New(cfg, cache, syncer, logger.With("component", "http"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go syncer.Run(ctx)

	return srv.Run(ctx)
}

func syncConfig(cfg *config.Config) calendar.SyncConfig {
	return calendar.SyncConfig{
		Interval:       cfg.Calendar.SyncInterval,
		Horizon:        cfg.Calendar.Horizon,
		Lookbehind:     cfg.Calendar.Lookbehind,
		FetchTimeout:   cfg.Calendar.FetchTimeout,
		InitialBackoff: cfg.Calendar.InitialBackoff,
		MaxBackoff:     cfg.Calendar.MaxBackoff,
		JitterPercent:  cfg.Calendar.JitterPercent,
	}
}

// newSource builds the configured event source. The variant is selected
// once at startup and never switched at runtime.
func newSource(cfg *config.Config, logger *slog.Logger) (calendar.Source, error) {
	switch cfg.Calendar.Source {
	case config.SourceStatic:
		events, err := cfg.Calendar.StaticEvents()
		if err != nil {
			return nil, err
		}
		logger.Info("using static event source", "events", len(events))
		return calendar.NewStaticSource(events), nil

	case config.SourceGoogleCalendar:
		creds, err := resolveCredentials(&cfg.Calendar.Google)
		if err != nil {
			return nil, err
		}
		loc, err := cfg.Calendar.Location()
		if err != nil {
			return nil, err
		}
		logger.Info("using google calendar event source", "calendar_id", cfg.Calendar.Google.CalendarID)
		return google.New(google.Config{
			CalendarID:      cfg.Calendar.Google.CalendarID,
			CredentialsJSON: creds,
			Location:        loc,
		}, logger.With("component", "google"))

	case config.SourceICS:
		logger.Info("using ics event source")
		return ics.New(cfg.Calendar.ICS.URL, logger.With("component", "ics"))

	default:
		return nil, fmt.Errorf("unknown calendar source %q", cfg.Calendar.Source)
	}
}

func resolveCredentials(cfg *config.GoogleConfig) ([]byte, error) {
	if cfg.CredentialsJSON != "" {
		return []byte(cfg.CredentialsJSON), nil
	}
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("google calendar source needs credentials_json or credentials_file")
}
