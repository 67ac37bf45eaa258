package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gpukit/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()

	require.NotNil(t, registry)
	require.NotNil(t, registry.Metrics)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.Handler())
}

func TestRegisterCounter(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_ops_total",
		Help: "Test counter",
	})

	err := registry.RegisterCounter("texture_service", "ops_total", counter)
	require.NoError(t, err)

	// Duplicate registration under the same key is rejected
	err = registry.RegisterCounter("texture_service", "ops_total", counter)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegisterGaugeAndUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_utilization",
		Help: "Test gauge",
	})

	require.NoError(t, registry.RegisterGauge("budget", "utilization", gauge))

	assert.True(t, registry.Unregister("budget", "utilization"))
	assert.False(t, registry.Unregister("budget", "utilization"))

	// Re-registration after unregister succeeds
	require.NoError(t, registry.RegisterGauge("budget", "utilization", gauge))
}

func TestRegisterVecMetrics(t *testing.T) {
	registry := NewMetricsRegistry()

	counterVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_evictions_total",
		Help: "Test counter vec",
	}, []string{"tier"})
	require.NoError(t, registry.RegisterCounterVec("cache", "evictions_total", counterVec))

	histVec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_latency_seconds",
		Help: "Test histogram vec",
	}, []string{"op"})
	require.NoError(t, registry.RegisterHistogramVec("cache", "latency_seconds", histVec))
}

func TestCoreMetricsGathering(t *testing.T) {
	registry := NewMetricsRegistry()

	registry.Metrics.PoolAllocatedBytes.WithLabelValues("primary-gpu").Set(1024)
	registry.Metrics.PoolBudgetRejections.WithLabelValues("primary-gpu").Inc()

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["gpukit_pool_allocated_bytes"])
	assert.True(t, names["gpukit_pool_budget_rejections_total"])
}

func TestObserveErrorGathers(t *testing.T) {
	registry := NewMetricsRegistry()

	registry.Metrics.ObserveError("shader", "compile")
	registry.Metrics.ObserveError("shader", "compile")
	registry.Metrics.ObserveError("vector", "dispatch")

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != "gpukit_errors_total" {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		assert.Equal(t, 3.0, total)
		return
	}
	t.Fatal("gpukit_errors_total was not gathered")
}
