// Package metrics exposes Prometheus collectors for the harvester service.
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
	ingestOutcomesTotal       *prometheus.CounterVec
	fieldExtractionsTotal     *prometheus.CounterVec
	lowConfidenceTotal        prometheus.Counter
	aiCallsTotal              *prometheus.CounterVec
	aiBudgetExhaustedTotal    prometheus.Counter
	fetchPagesTotal           *prometheus.CounterVec
	fetchBytesTotal           *prometheus.CounterVec
	fetchRetriesTotal         prometheus.Counter
	robotsDeniedTotal         *prometheus.CounterVec
	rateLimitDelaySeconds     *prometheus.HistogramVec
	activeCrawls              prometheus.Gauge
	queueDepth                prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times.
func Init() {
	once.Do(func() {
		ingestOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_ingest_outcomes_total",
				Help: "Persist outcomes per extraction attempt, labeled by result and storage target.",
			},
			[]string{"result", "storage"},
		)

		fieldExtractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_field_extractions_total",
				Help: "Per-field extraction attempts, labeled by field and whether a value was found.",
			},
			[]string{"field", "found"},
		)

		lowConfidenceTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_low_confidence_results_total",
				Help: "Extraction results flagged for manual review.",
			},
		)

		aiCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_ai_calls_total",
				Help: "AI fallback invocations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		aiBudgetExhaustedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_ai_budget_exhausted_total",
				Help: "Times the AI fallback was skipped because the daily budget ran out.",
			},
		)

		fetchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_pages_total",
				Help: "Pages fetched, labeled by site and status class.",
			},
			[]string{"site", "status_class"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_fetch_retries_total",
				Help: "Fetch attempts retried after throttling or server errors.",
			},
		)

		robotsDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_robots_denied_total",
				Help: "Fetches refused because robots.txt disallows the path.",
			},
			[]string{"site"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Time spent waiting on per-host politeness gates.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)

		activeCrawls = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_crawls",
				Help: "Number of source crawls currently in flight.",
			},
		)

		queueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_queue_depth",
				Help: "Crawl tasks currently waiting in the queue.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname label from a URL, returning
// "unknown" for unparsable input.
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

// ObserveIngest increments the outcome counter for one persist attempt.
func ObserveIngest(result string, shadow bool) {
	storage := "production"
	if shadow {
		storage = "shadow"
	}
	ingestOutcomesTotal.WithLabelValues(result, storage).Inc()
}

// ObserveFieldExtraction records whether a recognized field got a value.
func ObserveFieldExtraction(field string, found bool) {
	fieldExtractionsTotal.WithLabelValues(field, strconv.FormatBool(found)).Inc()
}

// ObserveLowConfidence increments the needs-review counter.
func ObserveLowConfidence() {
	lowConfidenceTotal.Inc()
}

// ObserveAICall records one AI fallback invocation.
func ObserveAICall(outcome string) {
	aiCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAIBudgetExhausted increments the budget-exhausted counter.
func ObserveAIBudgetExhausted() {
	aiBudgetExhaustedTotal.Inc()
}

// ObserveFetch increments the fetch metrics for one completed request.
func ObserveFetch(site, statusClass string, bytesFetched int) {
	sanitized := SanitizeSite(site)
	fetchPagesTotal.WithLabelValues(sanitized, statusClass).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry increments the retry counter.
func ObserveFetchRetry() {
	fetchRetriesTotal.Inc()
}

// ObserveRobotsDenied records a robots.txt refusal for the site.
func ObserveRobotsDenied(site string) {
	robotsDeniedTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRateLimitDelay records time spent in the politeness gate.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// IncActiveCrawls increments the in-flight crawl gauge.
func IncActiveCrawls() {
	activeCrawls.Inc()
}

// DecActiveCrawls decrements the in-flight crawl gauge.
func DecActiveCrawls() {
	activeCrawls.Dec()
}

// SetQueueDepth records how many crawl tasks are waiting.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ClassifyStatus groups HTTP status codes for fetch metrics.
func ClassifyStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
