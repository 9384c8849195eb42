package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripfeed_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dripfeed_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripfeed_jobs_processed_total",
			Help: "Dispatch jobs resolved to a terminal or skipped state",
		},
		[]string{"status", "channel"},
	)

	quietReschedules = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dripfeed_quiet_hour_reschedules_total",
			Help: "Jobs pushed past a quiet-hour window instead of sent",
		},
		[]string{"channel"},
	)

	resends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dripfeed_manual_resends_total",
			Help: "Failed jobs re-armed by an operator",
		},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dripfeed_dispatch_batch_duration_seconds",
			Help:    "Wall time of one dispatch loop invocation",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300},
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordJobProcessed records a job reaching sent, failed or skipped.
func RecordJobProcessed(status, channel string) {
	jobsProcessed.WithLabelValues(status, channel).Inc()
}

// RecordQuietHourReschedule records a quiet-hour suppression.
func RecordQuietHourReschedule(channel string) {
	quietReschedules.WithLabelValues(channel).Inc()
}

// RecordManualResend records an operator resend.
func RecordManualResend() {
	resends.Inc()
}

// ObserveBatchDuration records how long one loop invocation took.
func ObserveBatchDuration(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
