// Package metrics exposes Prometheus instruments for subsystem polling.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Poll results used as the "result" label
const (
	ResultOK       = "ok"
	ResultEmpty    = "stopped_empty"
	ResultRejected = "not_running"
	ResultError    = "error"
)

var (
	registerOnce sync.Once

	polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackables",
			Subsystem: "subsystem",
			Name:      "polls_total",
			Help:      "GetChanges calls by result.",
		},
		[]string{"subsystem", "result"},
	)
	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "trackables",
			Subsystem: "subsystem",
			Name:      "poll_duration_seconds",
			Help:      "GetChanges duration in seconds.",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
		[]string{"subsystem"},
	)
	changeRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "trackables",
			Subsystem: "subsystem",
			Name:      "changes_total",
			Help:      "Trackable records reported, by sequence.",
		},
		[]string{"subsystem", "kind"},
	)
	liveTrackables = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trackables",
			Subsystem: "frameloop",
			Name:      "live",
			Help:      "Live trackables known to the frame loop.",
		},
		[]string{"subsystem"},
	)
	running = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "trackables",
			Subsystem: "subsystem",
			Name:      "running",
			Help:      "1 while the subsystem is running.",
		},
		[]string{"subsystem"},
	)
)

// Register adds the instruments to the default registry once
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(polls, pollDuration, changeRecords, liveTrackables, running)
	})
}

// RecordPoll counts one GetChanges call
func RecordPoll(subsystem, result string, duration time.Duration) {
	Register()
	polls.WithLabelValues(subsystem, result).Inc()
	pollDuration.WithLabelValues(subsystem).Observe(duration.Seconds())
}

// RecordChanges counts the records of one changeset
func RecordChanges(subsystem string, added, updated, removed int) {
	Register()
	if added > 0 {
		changeRecords.WithLabelValues(subsystem, "added").Add(float64(added))
	}
	if updated > 0 {
		changeRecords.WithLabelValues(subsystem, "updated").Add(float64(updated))
	}
	if removed > 0 {
		changeRecords.WithLabelValues(subsystem, "removed").Add(float64(removed))
	}
}

// SetLive reports the live trackable count for a subsystem
func SetLive(subsystem string, n int) {
	Register()
	liveTrackables.WithLabelValues(subsystem).Set(float64(n))
}

// SetRunning reports the running flag for a subsystem
func SetRunning(subsystem string, on bool) {
	Register()
	v := 0.0
	if on {
		v = 1
	}
	running.WithLabelValues(subsystem).Set(v)
}
