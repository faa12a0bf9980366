// Package metrics exposes Prometheus collectors for the link auditor.
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
	linkChecksTotal            *prometheus.CounterVec
	linkCheckDurationSeconds   *prometheus.HistogramVec
	catalogRequestsTotal       *prometheus.CounterVec
	catalogRetriesTotal        *prometheus.CounterVec
	catalogThrottlePausesTotal prometheus.Counter
	productActionsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		linkChecksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkaudit_link_checks_total",
				Help: "Total URL checks, labeled by link status.",
			},
			[]string{"link_status"},
		)

		linkCheckDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "linkaudit_link_check_duration_seconds",
				Help:    "Wall time per URL check including redirect hops.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"link_status"},
		)

		catalogRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkaudit_catalog_requests_total",
				Help: "Catalog API responses, labeled by operation and status code.",
			},
			[]string{"op", "code"},
		)

		catalogRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkaudit_catalog_retries_total",
				Help: "Catalog API retries, labeled by reason.",
			},
			[]string{"reason"},
		)

		catalogThrottlePausesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "linkaudit_catalog_throttle_pauses_total",
				Help: "Cooperative pauses taken when the call-limit bucket ran hot.",
			},
		)

		productActionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "linkaudit_visibility_mutations_total",
				Help: "Product visibility mutations attempted, labeled by action and result.",
			},
			[]string{"action", "result"},
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
				Name:    "linkaudit_rate_limit_delays_seconds",
				Help:    "Histogram of client-side rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(strings.ToLower(rawURL), "http") {
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

// ObserveLinkCheck records one verifier outcome. Checked URLs come from
// catalog content, so their hosts are not used as labels.
func ObserveLinkCheck(linkStatus string, duration time.Duration) {
	Init()
	linkChecksTotal.WithLabelValues(linkStatus).Inc()
	linkCheckDurationSeconds.WithLabelValues(linkStatus).Observe(duration.Seconds())
}

// ObserveCatalogRequest records a catalog API response code for an operation.
func ObserveCatalogRequest(op string, code int) {
	Init()
	catalogRequestsTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()
}

// ObserveCatalogRetry counts a retry of a catalog call.
func ObserveCatalogRetry(reason string) {
	Init()
	catalogRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveThrottlePause counts a cooperative throttle pause.
func ObserveThrottlePause() {
	Init()
	catalogThrottlePausesTotal.Inc()
}

// ObserveProductAction counts one visibility mutation attempt.
func ObserveProductAction(action string, err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	productActionsTotal.WithLabelValues(action, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}
