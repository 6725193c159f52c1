// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	harvesterItemsTotal          *prometheus.CounterVec
	harvesterFetchAttemptsTotal  *prometheus.CounterVec
	harvesterFetchRetriesTotal   prometheus.Counter
	harvesterRendererFallbacks   *prometheus.CounterVec
	harvesterActiveWorkers       prometheus.Gauge
	harvesterFetchDurationSecond *prometheus.HistogramVec
	harvesterBytesTotal          prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Total number of resolved download items, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Total direct fetch attempts, labeled by outcome class.",
			},
			[]string{"class"},
		)

		harvesterFetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_fetch_retries_total",
				Help: "Total backoff retries performed by the direct fetcher.",
			},
		)

		harvesterRendererFallbacks = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_renderer_fallbacks_total",
				Help: "Total renderer fallback invocations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		harvesterActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_workers",
				Help: "Number of workers currently resolving an item.",
			},
		)

		harvesterFetchDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of direct fetch attempt latencies, labeled by outcome class.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"class"},
		)

		harvesterBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_bytes_total",
				Help: "Total artifact bytes written by successful direct fetches.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItem increments the resolved-item counter for the given status.
func ObserveItem(status string) {
	harvesterItemsTotal.WithLabelValues(status).Inc()
}

// ObserveFetchAttempt records one direct fetch attempt and its latency.
// The class is "success" for completed attempts.
func ObserveFetchAttempt(class string, duration time.Duration) {
	harvesterFetchAttemptsTotal.WithLabelValues(class).Inc()
	harvesterFetchDurationSecond.WithLabelValues(class).Observe(duration.Seconds())
}

// ObserveRetry increments the backoff retry counter.
func ObserveRetry() {
	harvesterFetchRetriesTotal.Inc()
}

// ObserveRendererFallback records a fallback invocation outcome
// ("success" or "failure").
func ObserveRendererFallback(outcome string) {
	harvesterRendererFallbacks.WithLabelValues(outcome).Inc()
}

// ObserveBytes adds written artifact bytes.
func ObserveBytes(n int64) {
	if n > 0 {
		harvesterBytesTotal.Add(float64(n))
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	harvesterActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	harvesterActiveWorkers.Dec()
}
