package cache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gpukit/metric"
)

// cacheMetrics holds Prometheus metrics for multi-tier cache operations,
// labeled per tier.
type cacheMetrics struct {
	hits      *prometheus.CounterVec
	misses    *prometheus.CounterVec
	evictions *prometheus.CounterVec
	size      *prometheus.GaugeVec

	promotions prometheus.Counter
}

// newCacheMetrics creates and registers cache metrics with the provided registry.
func newCacheMetrics(registry *metric.MetricsRegistry, prefix string) (*cacheMetrics, error) {
	m := &cacheMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "gpukit",
			Subsystem:   "cache",
			Name:        "hits_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of cache hits per tier",
		}, []string{"tier"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "gpukit",
			Subsystem:   "cache",
			Name:        "misses_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of cache misses per tier",
		}, []string{"tier"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "gpukit",
			Subsystem:   "cache",
			Name:        "evictions_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of cache evictions per tier",
		}, []string{"tier"}),
		size: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "gpukit",
			Subsystem:   "cache",
			Name:        "entries",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Current number of entries per tier",
		}, []string{"tier"}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "gpukit",
			Subsystem:   "cache",
			Name:        "promotions_total",
			ConstLabels: prometheus.Labels{"component": prefix},
			Help:        "Total number of warm-to-hot promotions",
		}),
	}

	if err := registry.RegisterCounterVec(prefix, "cache_hits", m.hits); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(prefix, "cache_misses", m.misses); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec(prefix, "cache_evictions", m.evictions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec(prefix, "cache_entries", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(prefix, "cache_promotions", m.promotions); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *cacheMetrics) recordHit(tier TierName)      { m.hits.WithLabelValues(string(tier)).Inc() }
func (m *cacheMetrics) recordMiss(tier TierName)     { m.misses.WithLabelValues(string(tier)).Inc() }
func (m *cacheMetrics) recordEviction(tier TierName) { m.evictions.WithLabelValues(string(tier)).Inc() }
func (m *cacheMetrics) recordPromotion()             { m.promotions.Inc() }
func (m *cacheMetrics) updateSize(tier TierName, n int) {
	m.size.WithLabelValues(string(tier)).Set(float64(n))
}
