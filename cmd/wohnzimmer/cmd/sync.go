package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/musikundkultur/wohnzimmer/internal/calendar"
	"github.com/musikundkultur/wohnzimmer/internal/config"
	"github.com/musikundkultur/wohnzimmer/internal/logging"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch events from the configured source once and print them",
	Long: `sync performs a single fetch against the configured event source and
prints the result. Useful for verifying source configuration and
credentials without starting the server.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	source, err := newSource(cfg, logger)
	if err != nil {
		return err
	}

	now := time.Now()
	window := calendar.TimeRange{
		From: now.Add(-cfg.Calendar.Lookbehind),
		To:   now.Add(cfg.Calendar.Horizon),
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Calendar.FetchTimeout)
	defer cancel()

	events, err := source.Fetch(ctx, window)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}

	events = calendar.DedupeEvents(events)
	calendar.SortEvents(events)

	for _, ev := range events {
		when := ev.Start.Format("2006-01-02 15:04")
		if ev.AllDay {
			when = ev.Start.Format("2006-01-02")
		}
		if d := ev.Duration(); d > 0 {
			fmt.Printf("%s  %s (%s)\n", when, ev.Title, d)
		} else {
			fmt.Printf("%s  %s\n", when, ev.Title)
		}
	}
	fmt.Printf("%d events between %s and %s\n",
		len(events), window.From.Format("2006-01-02"), window.To.Format("2006-01-02"))
	return nil
}
