// Package metrics exposes Prometheus collectors for the discovery engine.
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
	pagesFetchedTotal        *prometheus.CounterVec
	itemsRejectedTotal       *prometheus.CounterVec
	itemsPersistedTotal      *prometheus.CounterVec
	scorerCallsTotal         *prometheus.CounterVec
	frontierDepth            *prometheus.GaugeVec
	activeWorkers            prometheus.Gauge
	headlessPromotionsTotal  prometheus.Counter
	reseedAttemptsTotal      *prometheus.CounterVec
	rateLimitDelaysSeconds   *prometheus.HistogramVec
	httpRequestDuration      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchcrawl_pages_fetched_total",
				Help: "Total pages fetched, labeled by status code class and branch.",
			},
			[]string{"status", "branch"},
		)

		itemsRejectedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchcrawl_items_rejected_total",
				Help: "Total pipeline items terminated, labeled by stage and reason code.",
			},
			[]string{"stage", "reason"},
		)

		itemsPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchcrawl_items_persisted_total",
				Help: "Total discovered content rows saved, labeled by source kind.",
			},
			[]string{"source"},
		)

		scorerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchcrawl_scorer_calls_total",
				Help: "Total relevance scorer invocations, labeled by engine and outcome.",
			},
			[]string{"engine", "outcome"},
		)

		frontierDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "patchcrawl_frontier_depth",
				Help: "Current frontier queue length per run.",
			},
			[]string{"run_id"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "patchcrawl_active_workers",
				Help: "Number of workers currently processing a candidate.",
			},
		)

		headlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "patchcrawl_headless_promotions_total",
				Help: "Total fetches escalated to the headless browser branch.",
			},
		)

		reseedAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchcrawl_reseed_attempts_total",
				Help: "Total frontier reseed attempts, labeled by result.",
			},
			[]string{"result"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "patchcrawl_rate_limit_delays_seconds",
				Help:    "Histogram of per-domain rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "patchcrawl_http_request_duration_seconds",
				Help:    "Histogram of control API request latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route", "code"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a completed fetch attempt.
func ObserveFetch(statusCode int, headless bool) {
	branch := "http"
	if headless {
		branch = "headless"
	}
	pagesFetchedTotal.WithLabelValues(statusClass(statusCode), branch).Inc()
}

// ObserveRejection records a terminal pipeline rejection.
func ObserveRejection(stage, reason string) {
	itemsRejectedTotal.WithLabelValues(stage, reason).Inc()
}

// ObservePersist records a saved content row.
func ObservePersist(source string) {
	itemsPersistedTotal.WithLabelValues(source).Inc()
}

// ObserveScorerCall records one scorer invocation.
func ObserveScorerCall(engine, outcome string) {
	scorerCallsTotal.WithLabelValues(engine, outcome).Inc()
}

// SetFrontierDepth updates the queue length gauge for a run.
func SetFrontierDepth(runID string, depth int) {
	frontierDepth.WithLabelValues(runID).Set(float64(depth))
}

// DropFrontierDepth removes a completed run's gauge series.
func DropFrontierDepth(runID string) {
	frontierDepth.DeleteLabelValues(runID)
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHeadlessPromotion counts a headless escalation.
func ObserveHeadlessPromotion() {
	headlessPromotionsTotal.Inc()
}

// ObserveReseed counts a reseed attempt result ("allowed", "denied", "open").
func ObserveReseed(result string) {
	reseedAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records a control API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(code)).Observe(duration.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "error"
	}
}
