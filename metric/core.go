package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not component-specific)
type Metrics struct {
	// Memory pool metrics
	PoolAllocatedBytes   *prometheus.GaugeVec
	PoolPeakBytes        *prometheus.GaugeVec
	PoolBudgetBytes      *prometheus.GaugeVec
	PoolAllocationsTotal *prometheus.CounterVec
	PoolBudgetRejections *prometheus.CounterVec

	// Pipeline metrics
	PipelineCompilesTotal   *prometheus.CounterVec
	PipelineCompileDuration *prometheus.HistogramVec

	// Batch processing metrics
	BatchesProcessed *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec
	StabilityLevel   *prometheus.GaugeVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		PoolAllocatedBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpukit",
				Subsystem: "pool",
				Name:      "allocated_bytes",
				Help:      "Currently allocated bytes per memory pool",
			},
			[]string{"backend"},
		),

		PoolPeakBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpukit",
				Subsystem: "pool",
				Name:      "peak_bytes",
				Help:      "Peak allocated bytes per memory pool",
			},
			[]string{"backend"},
		),

		PoolBudgetBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpukit",
				Subsystem: "pool",
				Name:      "budget_bytes",
				Help:      "Configured budget in bytes per memory pool",
			},
			[]string{"backend"},
		),

		PoolAllocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gpukit",
				Subsystem: "pool",
				Name:      "allocations_total",
				Help:      "Total allocations per memory pool",
			},
			[]string{"backend", "kind"},
		),

		PoolBudgetRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gpukit",
				Subsystem: "pool",
				Name:      "budget_rejections_total",
				Help:      "Total allocations rejected for exceeding the pool budget",
			},
			[]string{"backend"},
		),

		PipelineCompilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gpukit",
				Subsystem: "pipeline",
				Name:      "compiles_total",
				Help:      "Total pipeline compilations",
			},
			[]string{"backend", "status"},
		),

		PipelineCompileDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gpukit",
				Subsystem: "pipeline",
				Name:      "compile_duration_seconds",
				Help:      "Pipeline compilation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend"},
		),

		BatchesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gpukit",
				Subsystem: "vector",
				Name:      "batches_total",
				Help:      "Total vector batches processed",
			},
			[]string{"backend", "quantization", "status"},
		),

		BatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gpukit",
				Subsystem: "vector",
				Name:      "batch_duration_seconds",
				Help:      "Vector batch processing duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"backend"},
		),

		StabilityLevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gpukit",
				Subsystem: "vector",
				Name:      "stability_level",
				Help:      "Current stability level (0=degraded, 1=normal, 2=optimal)",
			},
			[]string{"backend"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gpukit",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),
	}
}

// ObserveCompile records a pipeline compilation outcome
func (m *Metrics) ObserveCompile(backend string, d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.PipelineCompilesTotal.WithLabelValues(backend, status).Inc()
	if success {
		m.PipelineCompileDuration.WithLabelValues(backend).Observe(d.Seconds())
	}
}

// ObserveError counts an error by originating component and type
func (m *Metrics) ObserveError(component, errType string) {
	m.ErrorsTotal.WithLabelValues(component, errType).Inc()
}

// ObserveBatch records a vector batch processing outcome
func (m *Metrics) ObserveBatch(backend, quantization string, d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.BatchesProcessed.WithLabelValues(backend, quantization, status).Inc()
	m.BatchDuration.WithLabelValues(backend).Observe(d.Seconds())
}
