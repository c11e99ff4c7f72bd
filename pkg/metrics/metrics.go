// Package metrics provides Prometheus metrics for reconciliation runs.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PassCandidatesTotal tracks candidate pairs considered by each pass
	PassCandidatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reconcile",
			Subsystem: "pass",
			Name:      "candidates_total",
			Help:      "Total number of candidate pairs considered by each pass",
		},
		[]string{"stage"},
	)

	// PassMatchesTotal tracks confirmed pairs by pass and reason
	PassMatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reconcile",
			Subsystem: "pass",
			Name:      "matches_total",
			Help:      "Total number of confirmed match pairs by pass and reason",
		},
		[]string{"stage", "reason"},
	)

	// PassFailuresTotal tracks aborted passes by error kind
	PassFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "reconcile",
			Subsystem: "pass",
			Name:      "failures_total",
			Help:      "Total number of aborted passes by error kind",
		},
		[]string{"stage", "kind"},
	)

	// PassDuration tracks pass duration in seconds
	PassDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "reconcile",
			Subsystem: "pass",
			Name:      "duration_seconds",
			Help:      "Duration of reconciliation passes in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"stage"},
	)

	// UnmatchedRecords tracks the residual unmatched records per ledger after the latest pass
	UnmatchedRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "reconcile",
			Subsystem: "ledger",
			Name:      "unmatched_records",
			Help:      "Number of unmatched records per ledger after the latest pass",
		},
		[]string{"side"},
	)
)

// WriteTextfile writes the default registry in text exposition format, for node exporter
// textfile collection after a batch run
func WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}
	return nil
}
