// Package metrics exposes Prometheus collectors for the mirror service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync run outcomes.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeFailed      = "failed"
	OutcomeRejected    = "rejected"
	OutcomeInterrupted = "interrupted"
)

// Comic fetch results.
const (
	FetchOK      = "ok"
	FetchSkipped = "skipped"
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
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"method", "route"},
	)

	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xkcd_sync_runs_total",
			Help: "Total number of synchronization runs, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	comicFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xkcd_comic_fetches_total",
			Help: "Total number of upstream comic fetches, labeled by result.",
		},
		[]string{"result"},
	)

	storeRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xkcd_store_records",
			Help: "Number of comic records in the metadata store.",
		},
	)

	updateInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "xkcd_update_in_progress",
			Help: "1 while a synchronization run holds the update guard.",
		},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xkcd_rate_limit_delay_seconds",
			Help:    "Histogram of upstream rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"host"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveSyncRun counts a finished or rejected synchronization run.
func ObserveSyncRun(outcome string) {
	syncRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveComicFetch counts one backfill fetch.
func ObserveComicFetch(result string) {
	comicFetchesTotal.WithLabelValues(result).Inc()
}

// SetStoreRecords records the current metadata store size.
func SetStoreRecords(n int) {
	storeRecords.Set(float64(n))
}

// SetUpdateInProgress flips the update guard gauge.
func SetUpdateInProgress(running bool) {
	if running {
		updateInProgress.Set(1)
		return
	}
	updateInProgress.Set(0)
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
