// Package metrics exposes Prometheus collectors for the archiver.
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
	articlesTotal              *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	bypassAttemptsTotal        *prometheus.CounterVec
	bypassAttemptSeconds       *prometheus.HistogramVec
	sourcePollsTotal           *prometheus.CounterVec
	sourcePollSeconds          *prometheus.HistogramVec
	imagesTotal                *prometheus.CounterVec
	activePolls                prometheus.Gauge
	headlessInFlight           prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_articles_total",
				Help: "Articles processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_fetch_retries_total",
				Help: "Fetch retries after throttling or network errors, labeled by source and reason.",
			},
			[]string{"source", "reason"},
		)

		bypassAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_bypass_attempts_total",
				Help: "Bypass strategy attempts, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		bypassAttemptSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_bypass_attempt_seconds",
				Help:    "Duration of bypass strategy attempts.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"strategy"},
		)

		sourcePollsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_source_polls_total",
				Help: "Source polls, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		sourcePollSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_source_poll_seconds",
				Help:    "Duration of a full source poll.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"source"},
		)

		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_images_total",
				Help: "Preview image downloads, labeled by result.",
			},
			[]string{"result"},
		)

		activePolls = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_active_polls",
				Help: "Number of sources currently being polled.",
			},
		)

		headlessInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_headless_tabs_in_flight",
				Help: "Number of headless browser tabs holding a render slot.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delays_seconds",
				Help:    "Histogram of per-source throttle waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"source"},
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
	Init()
	return promhttp.Handler()
}

// ObserveArticle counts one article outcome (stored, duplicate, failed).
func ObserveArticle(source, outcome string) {
	Init()
	articlesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveFetchRetry counts a retried fetch.
func ObserveFetchRetry(source, reason string) {
	Init()
	fetchRetriesTotal.WithLabelValues(source, reason).Inc()
}

// ObserveBypassAttempt records one bypass strategy attempt.
func ObserveBypassAttempt(strategy string, success bool, duration time.Duration) {
	Init()
	result := "failure"
	if success {
		result = "success"
	}
	bypassAttemptsTotal.WithLabelValues(strategy, result).Inc()
	bypassAttemptSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveSourcePoll records the outcome and duration of a source poll.
func ObserveSourcePoll(source string, success bool, duration time.Duration) {
	Init()
	status := "error"
	if success {
		status = "ok"
	}
	sourcePollsTotal.WithLabelValues(source, status).Inc()
	sourcePollSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveImage counts a preview image download result (saved, cached, failed).
func ObserveImage(result string) {
	Init()
	imagesTotal.WithLabelValues(result).Inc()
}

// IncActivePolls increments the active polls gauge.
func IncActivePolls() {
	Init()
	activePolls.Inc()
}

// DecActivePolls decrements the active polls gauge.
func DecActivePolls() {
	Init()
	activePolls.Dec()
}

// SetHeadlessInFlight records how many headless render slots are taken.
func SetHeadlessInFlight(n int) {
	Init()
	headlessInFlight.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a throttle wait.
func ObserveRateLimitDelay(source string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
