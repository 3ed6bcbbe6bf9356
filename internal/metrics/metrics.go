package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Stage metrics
	StageCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_stage_calls_total",
			Help: "Total number of model stage calls",
		},
		[]string{"stage", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_stage_duration_seconds",
			Help:    "Model stage call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	MalformedResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_malformed_responses_total",
			Help: "Total number of model responses that failed normalization",
		},
		[]string{"stage"},
	)

	ValidationRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_validation_rejections_total",
			Help: "Total number of questions rejected by the gatekeeper",
		},
	)

	// HTTP metrics
	RequestsRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_requests_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
