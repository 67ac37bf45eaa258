package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/gpukit/budget"
	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/metric"
	"github.com/c360/gpukit/telemetry"
	"github.com/c360/gpukit/types"
)

// Executor dispatches a packed batch through a compiled pipeline.
// *shader.Manager satisfies it.
type Executor interface {
	ExecuteShader(ctx context.Context, name string, backend types.Backend, input []float32, dim int, timeout time.Duration) ([]float32, error)
}

// Config holds batch processor settings.
type Config struct {
	// Dimension is the fixed vector dimensionality; it is configuration,
	// never inferred per call.
	Dimension int
	// Backend executes the batches.
	Backend types.Backend
	// PipelineName is the compiled pipeline batches dispatch through.
	PipelineName string
	// DispatchTimeout bounds one batch dispatch (default 5s).
	DispatchTimeout time.Duration
	// Stability configures the quantization state machine.
	Stability StabilityConfig
}

// DefaultConfig returns processor defaults for the given dimension,
// backend and pipeline.
func DefaultConfig(dim int, backend types.Backend, pipeline string) Config {
	return Config{
		Dimension:       dim,
		Backend:         backend,
		PipelineName:    pipeline,
		DispatchTimeout: 5 * time.Second,
		Stability:       DefaultStabilityConfig(),
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.Dimension <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "vector", "Validate",
			"dimension must be positive")
	}
	if err := c.Backend.Validate(); err != nil {
		return err
	}
	if c.PipelineName == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "vector", "Validate",
			"pipeline name is required")
	}
	if c.DispatchTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "vector", "Validate",
			"dispatch timeout must be positive")
	}
	return c.Stability.Validate()
}

// Processor batches fixed-dimension vectors through a cached pipeline with
// stability-driven quantization. Each batch is quantized to the selected
// level before dispatch, so results reflect the precision actually used.
type Processor struct {
	cfg       Config
	exec      Executor
	tracker   *budget.Tracker
	stability *StabilityTracker
	logger    *slog.Logger
	sink      telemetry.Sink
	metrics   *metric.Metrics
	now       func() time.Time
}

// Option configures the Processor.
type Option func(*Processor)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(p *Processor) { p.sink = telemetry.OrNop(sink) }
}

// WithMetrics sets the Prometheus metrics collection.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(p *Processor) { p.metrics = metrics }
}

// WithClock overrides the stability tracker's time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// NewProcessor creates a batch processor over an executor and budget
// tracker. The pipeline named in cfg must be compiled before batches are
// processed; the processor never compiles on demand.
func NewProcessor(cfg Config, exec Executor, tracker *budget.Tracker, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "vector", "NewProcessor", "nil executor")
	}
	if tracker == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "vector", "NewProcessor", "nil budget tracker")
	}

	p := &Processor{
		cfg:     cfg,
		exec:    exec,
		tracker: tracker,
		logger:  slog.Default(),
		sink:    telemetry.NopSink{},
	}
	for _, opt := range opts {
		opt(p)
	}

	stability, err := NewStabilityTracker(cfg.Stability, p.now)
	if err != nil {
		return nil, err
	}
	p.stability = stability
	return p, nil
}

// ProcessBatch processes a batch at the quantization level the stability
// tracker selects for current memory pressure. Output order and count
// always match input exactly.
func (p *Processor) ProcessBatch(ctx context.Context, vectors [][]float32) ([][]float32, error) {
	pressure := p.tracker.MemoryPressure(p.cfg.Backend)
	level := p.stability.DetermineOptimalQuantization(pressure)
	return p.processAt(ctx, vectors, level, pressure)
}

// ProcessBatchQuantized processes a batch at an explicit quantization
// level, bypassing selection but still feeding the stability tracker.
func (p *Processor) ProcessBatchQuantized(ctx context.Context, vectors [][]float32, level Level) ([][]float32, error) {
	if err := level.Validate(); err != nil {
		return nil, err
	}
	return p.processAt(ctx, vectors, level, p.tracker.MemoryPressure(p.cfg.Backend))
}

func (p *Processor) processAt(ctx context.Context, vectors [][]float32, level Level, pressure float64) ([][]float32, error) {
	if len(vectors) == 0 {
		return [][]float32{}, nil
	}

	dim := p.cfg.Dimension
	for i, vec := range vectors {
		if len(vec) != dim {
			// A mismatch fails the whole batch with no partial results.
			return nil, errors.WrapInvalid(errors.ErrDimensionMismatch, "vector", "ProcessBatch",
				fmt.Sprintf("vector %d has dimension %d, configured %d", i, len(vec), dim))
		}
	}

	flat := make([]float32, 0, len(vectors)*dim)
	for _, vec := range vectors {
		flat = append(flat, vec...)
	}

	// Round-trip through the wire format so the dispatch sees the precision
	// the selected level actually provides.
	packed, err := Pack(flat, dim, level)
	if err != nil {
		return nil, err
	}
	quantized, err := Unpack(packed, dim, level)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	output, err := p.exec.ExecuteShader(ctx, p.cfg.PipelineName, p.cfg.Backend, quantized, dim, p.cfg.DispatchTimeout)
	elapsed := time.Since(start)

	if p.metrics != nil {
		p.metrics.ObserveBatch(string(p.cfg.Backend), level.String(), elapsed, err == nil)
		p.metrics.StabilityLevel.WithLabelValues(string(p.cfg.Backend)).
			Set(float64(p.stability.Snapshot().CurrentLevel))
	}
	p.sink.Emit(ctx, "batch.processed", elapsed, err == nil, map[string]any{
		"backend":      string(p.cfg.Backend),
		"quantization": level.String(),
		"vectors":      len(vectors),
	})

	if err != nil {
		if p.metrics != nil {
			p.metrics.ObserveError("vector", "dispatch")
		}
		p.stability.TrackOperationFailure()
		p.logger.Warn("batch dispatch failed",
			"pipeline", p.cfg.PipelineName, "backend", p.cfg.Backend,
			"quantization", level.String(), "error", err)
		return nil, err
	}
	if len(output) != len(flat) {
		p.stability.TrackOperationFailure()
		return nil, errors.WrapFatal(errors.ErrInvalidData, "vector", "ProcessBatch",
			fmt.Sprintf("dispatch returned %d values for %d inputs", len(output), len(flat)))
	}
	p.stability.TrackOperationSuccess(elapsed, pressure)

	result := make([][]float32, len(vectors))
	for i := range result {
		result[i] = output[i*dim : (i+1)*dim : (i+1)*dim]
	}
	return result, nil
}

// Stability returns a snapshot of the stability tracker.
func (p *Processor) Stability() StabilitySnapshot { return p.stability.Snapshot() }

// MemoryPressure reports the configured backend's current budget pressure.
func (p *Processor) MemoryPressure() float64 {
	return p.tracker.MemoryPressure(p.cfg.Backend)
}
