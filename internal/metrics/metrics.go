// Package metrics exposes Prometheus collectors for cache operations. The
// package-level record functions are safe to call before Init; they no-op
// until the subsystem is initialized.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheMetrics wraps the Prometheus collectors for the cache subsystem.
type CacheMetrics struct {
	registry *prometheus.Registry

	lookupsTotal       *prometheus.CounterVec
	storesTotal        *prometheus.CounterVec
	invalidationsTotal prometheus.Counter
	invalidatedKeys    prometheus.Counter
	errorsTotal        prometheus.Counter
	lookupDuration     *prometheus.HistogramVec
	hitRate            prometheus.GaugeFunc
}

// Default histogram buckets for cache lookup duration (in milliseconds).
var defaultBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250}

var cacheMetrics *CacheMetrics

// Init initializes the metrics subsystem. hitRate, when non-nil, is sampled
// on every scrape (typically Cache.Stats().HitRate).
func Init(namespace string, hitRate func() float64) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &CacheMetrics{
		registry: registry,

		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of cache lookups by result",
			},
			[]string{"result"},
		),

		storesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_stores_total",
				Help:      "Total number of cache writes by outcome",
			},
			[]string{"outcome"},
		),

		invalidationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Total number of tag invalidation operations",
			},
		),

		invalidatedKeys: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidated_keys_total",
				Help:      "Total number of keys removed by tag invalidation",
			},
		),

		errorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_errors_total",
				Help:      "Total number of fail-open cache backend errors",
			},
		),

		lookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cache_lookup_duration_ms",
				Help:      "Cache lookup duration in milliseconds",
				Buckets:   defaultBuckets,
			},
			[]string{"result"},
		),
	}

	if hitRate != nil {
		m.hitRate = prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_hit_rate",
				Help:      "Cache hit rate percentage since the last stats reset",
			},
			hitRate,
		)
		registry.MustRegister(m.hitRate)
	}

	registry.MustRegister(
		m.lookupsTotal,
		m.storesTotal,
		m.invalidationsTotal,
		m.invalidatedKeys,
		m.errorsTotal,
		m.lookupDuration,
	)

	cacheMetrics = m
}

// Enabled reports whether Init has been called.
func Enabled() bool { return cacheMetrics != nil }

// RecordLookup records a cache lookup with its result ("hit" or "miss") and
// duration.
func RecordLookup(result string, durationMs float64) {
	if cacheMetrics == nil {
		return
	}
	cacheMetrics.lookupsTotal.WithLabelValues(result).Inc()
	cacheMetrics.lookupDuration.WithLabelValues(result).Observe(durationMs)
}

// RecordStore records a post-response cache write outcome ("ok" or "failed").
func RecordStore(outcome string) {
	if cacheMetrics == nil {
		return
	}
	cacheMetrics.storesTotal.WithLabelValues(outcome).Inc()
}

// RecordInvalidation records one tag invalidation and the number of keys it
// attempted to remove.
func RecordInvalidation(keys int) {
	if cacheMetrics == nil {
		return
	}
	cacheMetrics.invalidationsTotal.Inc()
	cacheMetrics.invalidatedKeys.Add(float64(keys))
}

// RecordError records a fail-open backend error observed by the middleware.
func RecordError() {
	if cacheMetrics == nil {
		return
	}
	cacheMetrics.errorsTotal.Inc()
}

// Handler returns the Prometheus scrape handler, or nil before Init.
func Handler() http.Handler {
	if cacheMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(cacheMetrics.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry for tests, or nil before Init.
func Registry() *prometheus.Registry {
	if cacheMetrics == nil {
		return nil
	}
	return cacheMetrics.registry
}
