// Package metrics exposes Prometheus collectors for the numberwatch jobs.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "numberwatch_fetch_requests_total",
			Help: "Total outbound fetches, labeled by site and outcome.",
		},
		[]string{"site", "outcome"},
	)

	fetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "numberwatch_fetch_bytes_total",
			Help: "Total bytes fetched, labeled by site.",
		},
		[]string{"site"},
	)

	sourcesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "numberwatch_sources_total",
			Help: "Source state transitions, labeled by resulting state.",
		},
		[]string{"state"},
	)

	numbersExtractedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "numberwatch_numbers_extracted_total",
			Help: "Total identifiers extracted from parsed documents.",
		},
	)

	watchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "numberwatch_watches_reconciled_total",
			Help: "Watches processed by the reconciler, labeled by result.",
		},
		[]string{"result"},
	)

	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "numberwatch_notifications_total",
			Help: "Match notifications, labeled by status.",
		},
		[]string{"status"},
	)

	jobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "numberwatch_job_duration_seconds",
			Help:    "Histogram of batch job run durations, labeled by job and status.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"job", "status"},
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

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "numberwatch_rate_limit_delays_seconds",
			Help:    "Histogram of outbound rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)
)

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

// ObserveFetch records one outbound fetch.
func ObserveFetch(site string, failed bool, bytesFetched int) {
	sanitized := SanitizeSite(site)
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	fetchRequestsTotal.WithLabelValues(sanitized, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveSource records a source entering the given state.
func ObserveSource(state string) {
	sourcesTotal.WithLabelValues(state).Inc()
}

// ObserveNumbersExtracted adds n extracted identifiers.
func ObserveNumbersExtracted(n int) {
	if n > 0 {
		numbersExtractedTotal.Add(float64(n))
	}
}

// ObserveWatch records one reconciled watch ("matched", "pending", "skipped").
func ObserveWatch(result string) {
	watchesTotal.WithLabelValues(result).Inc()
}

// ObserveNotification records a notification attempt ("sent", "failed", "no_channel").
func ObserveNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// ObserveJob records the duration of one job run.
func ObserveJob(job string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	jobDurationSeconds.WithLabelValues(job, status).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
