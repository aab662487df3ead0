package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request pipeline metrics
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_agent_requests_total",
			Help: "Total number of handled requests by category and outcome kind",
		},
		[]string{"category", "outcome"},
	)

	ClassificationConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_agent_classification_confidence",
			Help:    "Confidence of the winning category",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"category"},
	)

	CapabilityInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_agent_capability_invocations_total",
			Help: "Total number of capability invocations",
		},
		[]string{"capability", "status"},
	)

	CapabilityDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_agent_capability_duration_seconds",
			Help:    "Capability invocation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"capability"},
	)
)

// Session metrics
var (
	SessionInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_agent_session_invocations_total",
			Help: "Total number of production invocations against a session",
		},
		[]string{"session", "status"},
	)

	SessionSetupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_agent_session_setups_total",
			Help: "Total number of session resource setups",
		},
		[]string{"session"},
	)

	SessionResetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_agent_session_resets_total",
			Help: "Total number of session resets by reason",
		},
		[]string{"session", "reason"},
	)

	SessionContaminationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_agent_session_contaminations_total",
			Help: "Total number of contamination signatures detected",
		},
		[]string{"session", "signature"},
	)

	SessionInvocationCounter = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_agent_session_invocation_counter",
			Help: "Current invocation counter of a session",
		},
		[]string{"session"},
	)
)
