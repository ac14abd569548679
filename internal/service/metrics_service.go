package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/studio-schedule-api/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	materialized    prometheus.Counter
	commits         *prometheus.CounterVec
	conflicts       prometheus.Counter
	notifyFailures  *prometheus.CounterVec
	generationRun   prometheus.Histogram

	cacheHitCount     uint64
	cacheMissCount    uint64
	requestCount      uint64
	materializedCount uint64
	commitCount       uint64
	conflictCount     uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "preview_cache_hits_total",
		Help: "Impact previews served from cache",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "preview_cache_misses_total",
		Help: "Impact previews computed on demand",
	})

	materialized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "occurrences_materialized_total",
		Help: "Occurrences written by materialization",
	})

	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "series_commits_total",
		Help: "Series change commits by edit scope and outcome",
	}, []string{"scope", "outcome"})

	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "series_concurrent_modifications_total",
		Help: "Commits rejected by the optimistic version check",
	})

	notifyFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Notifications that could not be dispatched",
	}, []string{"kind"})

	generationRun := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "generation_run_seconds",
		Help:    "Duration of scheduled generation runs",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHits, cacheMisses, materialized, commits, conflicts, notifyFailures, generationRun, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		materialized:    materialized,
		commits:         commits,
		conflicts:       conflicts,
		notifyFailures:  notifyFailures,
		generationRun:   generationRun,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordCacheOperation records preview cache hits and misses.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
		return
	}
	m.cacheMisses.Inc()
	atomic.AddUint64(&m.cacheMissCount, 1)
}

// AddMaterialized counts newly written occurrences.
func (m *MetricsService) AddMaterialized(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.materialized.Add(float64(n))
	atomic.AddUint64(&m.materializedCount, uint64(n))
}

// RecordCommit counts a change commit. Conflicts are also tracked separately.
func (m *MetricsService) RecordCommit(scope models.EditScope, outcome string) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(string(scope), outcome).Inc()
	atomic.AddUint64(&m.commitCount, 1)
	if outcome == CommitOutcomeConflict {
		m.conflicts.Inc()
		atomic.AddUint64(&m.conflictCount, 1)
	}
}

// RecordNotificationFailure counts a notification that was dropped or failed.
func (m *MetricsService) RecordNotificationFailure(kind string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(kind).Inc()
}

// ObserveGenerationRun records the duration of a scheduled generation pass.
func (m *MetricsService) ObserveGenerationRun(duration time.Duration) {
	if m == nil {
		return
	}
	m.generationRun.Observe(duration.Seconds())
}

// Snapshot returns aggregated counters for the metrics summary endpoint.
func (m *MetricsService) Snapshot() models.SchedulingMetrics {
	if m == nil {
		return models.SchedulingMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)

	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	return models.SchedulingMetrics{
		RequestsTotal:           atomic.LoadUint64(&m.requestCount),
		PreviewCacheHitRatio:    ratio,
		OccurrencesMaterialized: atomic.LoadUint64(&m.materializedCount),
		Commits:                 atomic.LoadUint64(&m.commitCount),
		Conflicts:               atomic.LoadUint64(&m.conflictCount),
		Goroutines:              runtime.NumGoroutine(),
		GeneratedAt:             time.Now().UTC(),
	}
}
