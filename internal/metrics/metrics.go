// Package metrics exposes Prometheus collectors for the capture pipeline.
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
	eventsTotal                *prometheus.CounterVec
	eventBytesTotal            *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	decodeErrorsTotal          *prometheus.CounterVec
	replaysTotal               *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	runDurationSeconds         prometheus.Histogram
	activeRuns                 prometheus.Gauge
	replayDelaySeconds         *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		eventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_events_total",
				Help: "Traffic events ingested, labeled by category and outcome.",
			},
			[]string{"category", "outcome"},
		)

		eventBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_event_bytes_total",
				Help: "Response bytes ingested, labeled by category.",
			},
			[]string{"category"},
		)

		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_records_total",
				Help: "Records committed to the store, labeled by kind.",
			},
			[]string{"kind"},
		)

		decodeErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_decode_errors_total",
				Help: "Payloads that failed to decode, labeled by category.",
			},
			[]string{"category"},
		)

		replaysTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_replays_total",
				Help: "Per-target replay outcomes, labeled by status.",
			},
			[]string{"status"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intel_runs_total",
				Help: "Orchestration runs, labeled by terminal status.",
			},
			[]string{"status"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "intel_run_duration_seconds",
				Help:    "Wall time of orchestration runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
		)

		activeRuns = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "intel_active_runs",
				Help: "Number of orchestration runs in progress.",
			},
		)

		replayDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intel_replay_delay_seconds",
				Help:    "Histogram of pacing waits between replays.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveEvent counts one ingested traffic event.
func ObserveEvent(category, outcome string, bytes int) {
	Init()
	eventsTotal.WithLabelValues(category, outcome).Inc()
	if bytes > 0 {
		eventBytesTotal.WithLabelValues(category).Add(float64(bytes))
	}
}

// ObserveRecords counts committed targets and items.
func ObserveRecords(targets, items int) {
	Init()
	if targets > 0 {
		recordsTotal.WithLabelValues("target").Add(float64(targets))
	}
	if items > 0 {
		recordsTotal.WithLabelValues("metric").Add(float64(items))
	}
}

// ObserveDecodeError counts a payload that could not be decoded.
func ObserveDecodeError(category string) {
	Init()
	decodeErrorsTotal.WithLabelValues(category).Inc()
}

// ObserveReplay counts a per-target replay outcome.
func ObserveReplay(status string) {
	Init()
	replaysTotal.WithLabelValues(status).Inc()
}

// ObserveRun records a finished orchestration run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
	runDurationSeconds.Observe(duration.Seconds())
}

// IncActiveRuns increments the active runs gauge.
func IncActiveRuns() {
	Init()
	activeRuns.Inc()
}

// DecActiveRuns decrements the active runs gauge.
func DecActiveRuns() {
	Init()
	activeRuns.Dec()
}

// ObserveReplayDelay records the duration of a pacing wait.
func ObserveReplayDelay(host string, duration time.Duration) {
	Init()
	replayDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
