package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/gpukit/metric"
)

// engineMetrics holds Prometheus metrics for engine lifecycle and the
// result cache. All record methods are nil-safe so the engine can run
// without metrics.
type engineMetrics struct {
	starts        prometheus.Counter
	stops         prometheus.Counter
	startDuration prometheus.Histogram
	stopDuration  prometheus.Histogram
	cacheLookups  *prometheus.CounterVec // By result (hit/miss)
}

// newEngineMetrics creates and registers engine metrics with the provided
// registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		starts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpukit",
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Total number of engine start operations",
		}),

		stops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gpukit",
			Subsystem: "engine",
			Name:      "stops_total",
			Help:      "Total number of engine stop operations",
		}),

		startDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gpukit",
			Subsystem: "engine",
			Name:      "start_duration_seconds",
			Help:      "Engine start duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		stopDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gpukit",
			Subsystem: "engine",
			Name:      "stop_duration_seconds",
			Help:      "Engine stop duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gpukit",
			Subsystem: "engine",
			Name:      "result_cache_lookups_total",
			Help:      "Total result cache lookups by outcome",
		}, []string{"result"}), // result: hit, miss
	}

	if err := registry.RegisterCounter("engine", "starts", m.starts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("engine", "stops", m.stops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "start_duration", m.startDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("engine", "stop_duration", m.stopDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "result_cache_lookups", m.cacheLookups); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *engineMetrics) recordStart(duration float64) {
	if m == nil {
		return
	}
	m.starts.Inc()
	m.startDuration.Observe(duration)
}

func (m *engineMetrics) recordStop(duration float64) {
	if m == nil {
		return
	}
	m.stops.Inc()
	m.stopDuration.Observe(duration)
}

func (m *engineMetrics) recordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
