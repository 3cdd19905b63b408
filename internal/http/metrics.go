package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the API's prometheus instruments.
type Metrics struct {
	jobsSubmitted  *prometheus.CounterVec
	cancelRequests prometheus.Counter
	requestDur     *prometheus.HistogramVec
}

// NewMetrics registers the API metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_jobs_submitted_total",
			Help: "Job submissions accepted, labeled by execution mode.",
		}, []string{"mode"}),
		cancelRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "execd_job_cancel_requests_total",
			Help: "Cancellation requests received.",
		}),
		requestDur: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "execd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds by method and path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}
