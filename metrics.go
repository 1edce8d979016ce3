package fetchup

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the fetch lifecycle and
// the manual cache. It is safe for concurrent use and every method is a
// no-op on a nil receiver.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	cacheDecisions *prometheus.CounterVec
	cacheReads     *prometheus.CounterVec
	cacheSize      *prometheus.GaugeVec
	storeFailures  *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registerer prometheus.Registerer
}

// Cache read results recorded by RecordCacheRead.
const (
	CacheReadHit     = "hit"
	CacheReadMiss    = "miss"
	CacheReadExpired = "expired"
)

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(registry)
	mc := &MetricsCollector{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchup_requests_total",
				Help: "Total number of fetches completed",
			},
			[]string{"method", "status_code", "endpoint", "mode"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fetchup_request_duration_seconds",
				Help:    "Duration of fetches in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fetchup_requests_in_flight",
				Help: "Number of fetches currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		cacheDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchup_cache_decisions_total",
				Help: "Cache decisions taken on proposed responses, by mode and outcome",
			},
			[]string{"mode", "decision"},
		),
		cacheReads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchup_cache_reads_total",
				Help: "Manual cache reads by result",
			},
			[]string{"endpoint", "result"},
		),
		cacheSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fetchup_cache_size",
				Help: "Current number of entries in cache",
			},
			[]string{"name"},
		),
		storeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchup_cache_store_failures_total",
				Help: "Cache store operations that returned an error",
			},
			[]string{"operation"},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetchup_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "endpoint"},
		),
		registerer: registry,
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, mode CacheMode, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint, mode.String()).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordCacheDecision counts what happened to a proposed response.
func (mc *MetricsCollector) RecordCacheDecision(mode CacheMode, decision string) {
	if mc == nil {
		return
	}

	mc.cacheDecisions.WithLabelValues(mode.String(), decision).Inc()
}

// RecordCacheRead counts a manual cache read.
func (mc *MetricsCollector) RecordCacheRead(endpoint, result string) {
	if mc == nil {
		return
	}

	mc.cacheReads.WithLabelValues(endpoint, result).Inc()
}

// RecordCacheSize sets cache size gauge.
func (mc *MetricsCollector) RecordCacheSize(name string, size int) {
	if mc == nil {
		return
	}

	mc.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordStoreFailure counts a failed store operation.
func (mc *MetricsCollector) RecordStoreFailure(operation string) {
	if mc == nil {
		return
	}

	mc.storeFailures.WithLabelValues(operation).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// GetRegistry exposes the underlying prometheus registry, or nil when the
// collector was built on some other Registerer.
func (mc *MetricsCollector) GetRegistry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	registry, _ := mc.registerer.(*prometheus.Registry)
	return registry
}
