package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Processed items by final status
	OutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localclaw_outcomes_total",
			Help: "Total number of processed items by channel and status",
		},
		[]string{"channel", "status"}, // status: skipped, draft, replied, failed
	)

	// Poll cycles
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localclaw_poll_cycles_total",
			Help: "Total number of poll cycles by channel and result",
		},
		[]string{"channel", "result"}, // result: ok, error, disabled
	)

	// Inference latency (milliseconds)
	InferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localclaw_inference_latency_ms",
			Help:    "Inference call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12), // 100ms to ~200s
		},
		[]string{"status"},
	)

	// Control API latency (seconds)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localclaw_http_request_duration_seconds",
			Help:    "Control API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)

	// Scheduled job runs
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localclaw_job_runs_total",
			Help: "Total number of scheduled job runs",
		},
		[]string{"job"},
	)
)

// IncrementOutcome counts one processed item.
func IncrementOutcome(channel, status string) {
	OutcomesTotal.WithLabelValues(channel, status).Inc()
}

// IncrementPollCycle counts one poll cycle.
func IncrementPollCycle(channel, result string) {
	PollCyclesTotal.WithLabelValues(channel, result).Inc()
}

// RecordInferenceLatency records one inference call.
func RecordInferenceLatency(status string, duration time.Duration) {
	InferenceLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordHTTPRequestDuration records one control API request.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// IncrementJobRun counts one scheduled job run.
func IncrementJobRun(job string) {
	JobRunsTotal.WithLabelValues(job).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
