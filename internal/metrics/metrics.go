// Package metrics exposes Prometheus collectors for the keyword engine.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	serpFetchesTotal         *prometheus.CounterVec
	serpFetchDurationSeconds *prometheus.HistogramVec
	discoveryJobsTotal       *prometheus.CounterVec
	candidatesGeneratedTotal *prometheus.CounterVec
	activeWorkers            prometheus.Gauge
	rateLimitDelaysSeconds   *prometheus.HistogramVec
	regionCooldownsTotal     *prometheus.CounterVec
	httpRequestsTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		serpFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyword_serp_fetches_total",
				Help: "Total SERP lookups, labeled by region and outcome.",
			},
			[]string{"region", "outcome"},
		)

		serpFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyword_serp_fetch_duration_seconds",
				Help:    "Histogram of SERP lookup latencies, labeled by region.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"region"},
		)

		discoveryJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyword_discovery_jobs_total",
				Help: "Total discovery jobs reaching a terminal status.",
			},
			[]string{"status"},
		)

		candidatesGeneratedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyword_candidates_generated_total",
				Help: "Total keyword candidates proposed, labeled by method.",
			},
			[]string{"method"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "keyword_active_workers",
				Help: "Number of workers currently processing a candidate.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keyword_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations, labeled by region.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"region"},
		)

		regionCooldownsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyword_region_cooldowns_total",
				Help: "Total region-wide cooldowns triggered by blocked fetches.",
			},
			[]string{"region"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSerpFetch records one SERP lookup outcome and latency.
func ObserveSerpFetch(region, outcome string, duration time.Duration) {
	serpFetchesTotal.WithLabelValues(region, outcome).Inc()
	serpFetchDurationSeconds.WithLabelValues(region).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	discoveryJobsTotal.WithLabelValues(status).Inc()
}

// ObserveCandidates adds generated candidate counts for a method.
func ObserveCandidates(method string, count int) {
	if count > 0 {
		candidatesGeneratedTotal.WithLabelValues(method).Add(float64(count))
	}
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
func ObserveRateLimitDelay(region string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(region).Observe(duration.Seconds())
}

// ObserveRegionCooldown counts a region-wide cooldown.
func ObserveRegionCooldown(region string) {
	regionCooldownsTotal.WithLabelValues(region).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method string, code int) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
