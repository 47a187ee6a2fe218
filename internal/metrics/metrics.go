// Package metrics exposes Prometheus collectors for the voxelpromo service.
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
	offersCollectedTotal       *prometheus.CounterVec
	offersPostedTotal          *prometheus.CounterVec
	scrapeDurationSeconds      *prometheus.HistogramVec
	scrapeFailuresTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	collectJobsTotal           *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	shortLinkRedirectsTotal    prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		offersCollectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxelpromo_offers_collected_total",
				Help: "Total number of offers collected, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		offersPostedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxelpromo_offers_posted_total",
				Help: "Total number of channel post attempts, labeled by channel and status.",
			},
			[]string{"channel", "status"},
		)

		scrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voxelpromo_scrape_duration_seconds",
				Help:    "Histogram of scrape latencies, labeled by source.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"source"},
		)

		scrapeFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxelpromo_scrape_failures_total",
				Help: "Total number of failed scrapes, labeled by source.",
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

		collectJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "voxelpromo_collect_jobs_total",
				Help: "Total number of collect jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "voxelpromo_active_workers",
				Help: "Number of workers currently processing a collect job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "voxelpromo_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		shortLinkRedirectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "voxelpromo_shortlink_redirects_total",
				Help: "Total number of short link redirects served.",
			},
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

// ObserveOfferCollected increments the collected-offer counter.
func ObserveOfferCollected(source, outcome string) {
	offersCollectedTotal.WithLabelValues(source, outcome).Inc()
}

// ObservePost increments the channel post counter.
func ObservePost(channel, status string) {
	offersPostedTotal.WithLabelValues(channel, status).Inc()
}

// ObserveScrape records one scrape for the given source.
func ObserveScrape(source string, duration time.Duration, err error) {
	scrapeDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	if err != nil {
		scrapeFailuresTotal.WithLabelValues(source).Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the collect job counter for the given status.
func ObserveJob(status string) {
	collectJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRedirect increments the short link redirect counter.
func ObserveRedirect() {
	shortLinkRedirectsTotal.Inc()
}
