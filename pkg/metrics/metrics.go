package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Case lifecycle metrics
	CasesCreated      *prometheus.CounterVec
	CaseTransitions   *prometheus.CounterVec
	AcceptConflicts   prometheus.Counter
	SweepReclaimed    prometheus.Counter
	OpenPoolSize      prometheus.Gauge

	// Scoring collaborator metrics
	ScoringRequests *prometheus.CounterVec
	ScoringLatency  prometheus.Histogram

	// Notification metrics
	NotificationsSent    prometheus.Counter
	NotificationsDropped prometheus.Counter

	// Reprocessor metrics
	ReprocessedCases prometheus.Counter
	ReprocessFailed  prometheus.Counter
}

// NewMetrics creates and registers all application metrics
func NewMetrics(namespace, subsystem string) *Metrics {
	return &Metrics{
		CasesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cases_created_total",
			Help:      "Total number of patient cases created, by submission source",
		}, []string{"source"}),
		CaseTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "case_transitions_total",
			Help:      "Total number of case state transitions",
		}, []string{"transition"}),
		AcceptConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "accept_conflicts_total",
			Help:      "Total number of accept attempts lost to another doctor",
		}),
		SweepReclaimed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sweep_reclaimed_total",
			Help:      "Total number of expired assignments returned to the pool",
		}),
		OpenPoolSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "open_pool_size",
			Help:      "Number of unassigned submitted cases at last pool read",
		}),
		ScoringRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scoring_requests_total",
			Help:      "Total number of scoring collaborator calls",
		}, []string{"outcome"}),
		ScoringLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "scoring_duration_seconds",
			Help:      "Time spent waiting on the scoring collaborator",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		NotificationsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_sent_total",
			Help:      "Total number of WebSocket notifications delivered",
		}),
		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "notifications_dropped_total",
			Help:      "Total number of notifications dropped on dead connections",
		}),
		ReprocessedCases: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reprocessed_cases_total",
			Help:      "Total number of cases rescored by the background worker",
		}),
		ReprocessFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reprocess_failed_total",
			Help:      "Total number of background rescore failures",
		}),
	}
}
