// Package metrics exposes Prometheus instrumentation for the calendar
// sync loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SyncStatus labels sync observations.
type SyncStatus string

const (
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
)

var (
	eventsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wohnzimmer",
		Name:      "calendar_events_total",
		Help:      "Total number of events in the current snapshot.",
	})

	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wohnzimmer",
		Name:      "calendar_syncs_total",
		Help:      "Total number of calendar syncs performed.",
	}, []string{"status"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "wohnzimmer",
		Name:      "calendar_sync_duration_seconds",
		Help:      "Calendar sync duration in seconds.",
	}, []string{"status"})

	latestSyncTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "wohnzimmer",
		Name:      "calendar_latest_sync_timestamp_seconds",
		Help:      "UNIX timestamp of the latest calendar sync per status.",
	}, []string{"status"})

	consecutiveFailures = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wohnzimmer",
		Name:      "calendar_consecutive_failures",
		Help:      "Number of failed sync attempts since the last success.",
	})
)

// ObserveSync records one sync attempt.
func ObserveSync(status SyncStatus, elapsed time.Duration, now time.Time) {
	syncsTotal.WithLabelValues(string(status)).Inc()
	syncDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	latestSyncTimestamp.WithLabelValues(string(status)).Set(float64(now.Unix()))
}

// SetEventCount updates the snapshot size gauge.
func SetEventCount(n int) {
	eventsTotal.Set(float64(n))
}

// SetConsecutiveFailures updates the failure streak gauge.
func SetConsecutiveFailures(n int) {
	consecutiveFailures.Set(float64(n))
}
