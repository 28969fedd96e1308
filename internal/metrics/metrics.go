// Package metrics exposes Prometheus collectors for the site service.
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
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
		},
		[]string{"method", "route"},
	)

	webhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound email webhook deliveries, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	crawlAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_attempts_total",
			Help: "Crawl attempts, labeled by site and terminal state.",
		},
		[]string{"site", "state"},
	)

	crawlDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawl_duration_seconds",
			Help:    "Wall-clock time from crawl submission to terminal state.",
			Buckets: []float64{5, 10, 20, 30, 60, 90, 120, 180},
		},
		[]string{"state"},
	)

	insightsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "competitor_insights_total",
			Help: "Generated competitor insights, labeled by parse outcome.",
		},
		[]string{"outcome"},
	)

	upstreamRateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_rate_limit_delays_seconds",
			Help:    "Histogram of outbound rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveWebhook counts a webhook delivery outcome.
func ObserveWebhook(outcome string) {
	webhookEventsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCrawl records a crawl reaching a terminal state.
func ObserveCrawl(site, state string, duration time.Duration) {
	crawlAttemptsTotal.WithLabelValues(SanitizeSite(site), state).Inc()
	crawlDurationSeconds.WithLabelValues(state).Observe(duration.Seconds())
}

// ObserveInsights counts parsed versus fallback insight generations.
func ObserveInsights(outcome string) {
	insightsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of an outbound rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	upstreamRateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}
