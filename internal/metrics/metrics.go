// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

var (
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_submissions_total",
			Help: "Survey submissions by outcome",
		},
		[]string{"experiment", "outcome"},
	)

	QualityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survey_quality_failures_total",
			Help: "Quality-control failures by reason",
		},
		[]string{"reason"},
	)

	AggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "survey_aggregation_duration_seconds",
			Help:    "Time to build a dashboard report",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"experiment"},
	)

	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "survey_dashboard_subscribers",
			Help: "Open dashboard websocket streams",
		},
	)
)

// ObserveAggregation records how long a report for experimentID took since start.
func ObserveAggregation(experimentID string, start time.Time) {
	AggregationDuration.WithLabelValues(experimentID).Observe(time.Since(start).Seconds())
}
