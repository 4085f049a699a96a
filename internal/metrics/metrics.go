// Package metrics exposes Prometheus collectors for the blog watcher.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	refinementTransitionsTotal *prometheus.CounterVec
	checksTotal                *prometheus.CounterVec
	postsTotal                 *prometheus.CounterVec
	errorsTotal                *prometheus.CounterVec
	llmRequestsTotal           *prometheus.CounterVec
	tasksTotal                 *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogwatch_fetch_total",
				Help: "Total number of page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogwatch_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blogwatch_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies including retries, labeled by renderer.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"renderer"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
		refinementTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogwatch_refinement_transitions_total",
				Help: "Refinement state machine transitions, labeled by the state entered.",
			},
			[]string{"state"},
		)
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogwatch_checks_total",
				Help: "Blog checks performed, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		postsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogwatch_posts_total",
				Help: "Posts processed by the extraction pipeline, labeled by status.",
			},
			[]string{"status"},
		)
		errorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogwatch_errors_total",
				Help: "Error records written, labeled by category.",
			},
			[]string{"category"},
		)
		llmRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogwatch_llm_requests_total",
				Help: "Oracle requests, labeled by operation and status.",
			},
			[]string{"operation", "status"},
		)
		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blogwatch_tasks_total",
				Help: "Queued blog tasks processed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blogwatch_active_workers",
				Help: "Number of workers currently processing a blog task.",
			},
		)
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "blogwatch_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one completed fetch, successful or not.
func ObserveFetch(site, status, renderer string, bytesFetched int, duration time.Duration) {
	Init()
	sanitized := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitized, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(renderer).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveTransition counts entry into a refinement state.
func ObserveTransition(state string) {
	Init()
	refinementTransitionsTotal.WithLabelValues(state).Inc()
}

// ObserveCheck counts a blog check outcome.
func ObserveCheck(outcome string) {
	Init()
	checksTotal.WithLabelValues(outcome).Inc()
}

// ObservePost counts a processed post by status.
func ObservePost(status string) {
	Init()
	postsTotal.WithLabelValues(status).Inc()
}

// ObserveError counts a written error record.
func ObserveError(category string) {
	Init()
	errorsTotal.WithLabelValues(category).Inc()
}

// ObserveLLMRequest counts an oracle request.
func ObserveLLMRequest(operation, status string) {
	Init()
	llmRequestsTotal.WithLabelValues(operation, status).Inc()
}

// ObserveTask counts a processed queue task.
func ObserveTask(kind, status string) {
	Init()
	tasksTotal.WithLabelValues(kind, status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
