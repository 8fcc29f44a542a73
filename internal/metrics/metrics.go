package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetdash_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meetdash_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route"},
	)

	// Business metrics
	MeetingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetdash_meetings_created_total",
			Help: "Total meetings created",
		},
	)

	MeetingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetdash_meeting_transitions_total",
			Help: "Meeting lifecycle transitions by target status",
		},
		[]string{"status"},
	)

	AgentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "meetdash_agents_created_total",
			Help: "Total agents created",
		},
	)

	// Upstream metrics
	VideoRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetdash_video_requests_total",
			Help: "Requests to the video platform by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	SagaCompensations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetdash_saga_compensations_total",
			Help: "Compensating actions run after a failed multi-step operation",
		},
		[]string{"step"},
	)

	SummaryJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetdash_summary_jobs_total",
			Help: "Summary jobs by outcome",
		},
		[]string{"outcome"},
	)

	// Cache metrics
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meetdash_cache_lookups_total",
			Help: "Procedure cache lookups by result",
		},
		[]string{"result"},
	)
)
