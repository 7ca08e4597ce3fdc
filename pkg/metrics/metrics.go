// Package metrics provides Prometheus metrics for the fern service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Ramsey-B/fern/pkg/models"
)

var (
	// ResolutionsTotal counts resolved field-sets by outcome
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolution",
			Name:      "resolutions_total",
			Help:      "Total number of field-set resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// CandidateRejectsTotal counts fuzzy candidates rejected by reason
	CandidateRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "resolution",
			Name:      "candidate_rejects_total",
			Help:      "Total number of fuzzy match candidates rejected by reason",
		},
		[]string{"reason"},
	)

	// OrdersTotal counts order writes by action
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "orders",
			Name:      "writes_total",
			Help:      "Total number of order writes by action",
		},
		[]string{"action"},
	)

	// IngestFailuresTotal counts field-sets that failed processing
	IngestFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "failures_total",
			Help:      "Total number of field-sets that failed processing",
		},
		[]string{"reason"},
	)

	// BatchDuration tracks batch processing time in seconds
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "batch_duration_seconds",
			Help:      "Duration of field-set batch processing in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	// DLQTotal counts field-sets sent to the dead letter queue
	DLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "dlq",
			Name:      "fieldsets_total",
			Help:      "Total number of field-sets sent to the dead letter queue",
		},
		[]string{"reason"},
	)
)

// Order write actions
const (
	ActionCreated   = "created"
	ActionMerged    = "merged"
	ActionUnchanged = "unchanged"
	ActionSkipped   = "skipped"
)

// RecordStats exports a batch's match counters.
func RecordStats(stats models.MatchStats) {
	ResolutionsTotal.WithLabelValues("identity").Add(float64(stats.IdentityMatch))
	ResolutionsTotal.WithLabelValues("fuzzy").Add(float64(stats.FuzzyMatch))
	ResolutionsTotal.WithLabelValues("none").Add(float64(stats.NoMatch))
	CandidateRejectsTotal.WithLabelValues("conflict").Add(float64(stats.ConflictReject))
	CandidateRejectsTotal.WithLabelValues("window").Add(float64(stats.WindowReject))
	CandidateRejectsTotal.WithLabelValues("below_threshold").Add(float64(stats.BelowThreshold))
}
