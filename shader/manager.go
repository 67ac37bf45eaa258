package shader

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/gpukit/budget"
	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/metric"
	"github.com/c360/gpukit/pkg/retry"
	"github.com/c360/gpukit/telemetry"
	"github.com/c360/gpukit/types"
)

// Config holds pipeline manager settings.
type Config struct {
	// GCMaxAge is the age past which an unused resource is reclaimable
	// (default 60s).
	GCMaxAge time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{GCMaxAge: 60 * time.Second}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.GCMaxAge <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "shader", "Validate",
			"gc max age must be positive")
	}
	return nil
}

type pipelineKey struct {
	name    string
	backend types.Backend
}

// pipelineEntry tracks one (name, backend) slot through the
// uncompiled -> compiling -> compiled | compile-failed lifecycle.
type pipelineEntry struct {
	state    PipelineState
	pipeline *CompiledPipeline
	err      error

	// ready is closed when the in-flight compile settles; waiters re-read
	// state afterwards.
	ready chan struct{}
}

// Manager caches compiled pipelines and tracks backend resources against a
// shared memory budget. At most one compilation is in flight per
// (name, backend) key; concurrent callers wait on it rather than compiling
// again. A failed compile is never retried automatically.
type Manager struct {
	cfg       Config
	tracker   *budget.Tracker
	platforms map[types.Backend]Platform
	logger    *slog.Logger
	sink      telemetry.Sink
	metrics   *metric.Metrics
	now       func() time.Time

	mu        sync.Mutex
	pipelines map[pipelineKey]*pipelineEntry

	resources *resourceSet
}

// Option configures the Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(sink telemetry.Sink) Option {
	return func(m *Manager) { m.sink = telemetry.OrNop(sink) }
}

// WithMetrics sets the Prometheus metrics collection.
func WithMetrics(metrics *metric.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a pipeline manager over the given budget tracker and
// platforms. At least one platform is required.
func NewManager(cfg Config, tracker *budget.Tracker, platforms []Platform, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tracker == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "shader", "NewManager", "nil budget tracker")
	}
	if len(platforms) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "shader", "NewManager", "at least one platform required")
	}

	m := &Manager{
		cfg:       cfg,
		tracker:   tracker,
		platforms: make(map[types.Backend]Platform, len(platforms)),
		logger:    slog.Default(),
		sink:      telemetry.NopSink{},
		now:       time.Now,
		pipelines: make(map[pipelineKey]*pipelineEntry),
	}
	for _, p := range platforms {
		if _, dup := m.platforms[p.Backend()]; dup {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "shader", "NewManager",
				fmt.Sprintf("duplicate platform for backend %s", p.Backend()))
		}
		m.platforms[p.Backend()] = p
	}
	for _, opt := range opts {
		opt(m)
	}
	m.resources = newResourceSet(m.now)
	return m, nil
}

// platform resolves the platform for a backend.
func (m *Manager) platform(backend types.Backend) (Platform, error) {
	p, ok := m.platforms[backend]
	if !ok {
		return nil, errors.WrapFatal(errors.ErrBackendUnavailable, "shader", "platform",
			fmt.Sprintf("no platform registered for backend %s", backend))
	}
	return p, nil
}

// Compile returns the cached pipeline for (bundle.Name, bundle.Backend) or
// compiles it. Concurrent callers for the same key are serialized behind a
// single compiler invocation. A previously failed compile returns its
// stored CompilationError until Invalidate clears the slot.
func (m *Manager) Compile(ctx context.Context, bundle Bundle) (*CompiledPipeline, error) {
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	platform, err := m.platform(bundle.Backend)
	if err != nil {
		return nil, err
	}
	key := pipelineKey{name: bundle.Name, backend: bundle.Backend}

	for {
		m.mu.Lock()
		entry, ok := m.pipelines[key]
		if !ok {
			entry = &pipelineEntry{state: StateCompiling, ready: make(chan struct{})}
			m.pipelines[key] = entry
			m.mu.Unlock()
			return m.compileOnce(ctx, key, entry, bundle, platform)
		}

		switch entry.state {
		case StateCompiled:
			entry.pipeline.LastUsedAt = m.now()
			pipeline := entry.pipeline
			m.mu.Unlock()
			return pipeline, nil
		case StateCompileFailed:
			failure := entry.err
			m.mu.Unlock()
			return nil, failure
		default: // StateCompiling
			ready := entry.ready
			m.mu.Unlock()
			select {
			case <-ready:
				// Settled; loop to re-read the outcome.
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

// compileOnce runs the single in-flight compilation for a key and settles
// the entry. Only the goroutine that created the entry calls this.
func (m *Manager) compileOnce(ctx context.Context, key pipelineKey, entry *pipelineEntry, bundle Bundle, platform Platform) (*CompiledPipeline, error) {
	start := m.now()
	handle, compileErr := platform.Compile(ctx, bundle)
	elapsed := time.Since(start)

	m.mu.Lock()
	if compileErr != nil {
		// Context cancellation is not a source defect; clear the slot so a
		// later caller can compile.
		if stderrors.Is(compileErr, context.Canceled) || stderrors.Is(compileErr, context.DeadlineExceeded) {
			delete(m.pipelines, key)
			close(entry.ready)
			m.mu.Unlock()
			return nil, compileErr
		}
		entry.state = StateCompileFailed
		entry.err = &errors.CompilationError{
			Name:       bundle.Name,
			Backend:    string(bundle.Backend),
			Diagnostic: compileErr.Error(),
		}
		failure := entry.err
		close(entry.ready)
		m.mu.Unlock()

		m.logger.Error("pipeline compilation failed",
			"pipeline", bundle.Name, "backend", bundle.Backend, "error", compileErr)
		if m.metrics != nil {
			m.metrics.ObserveCompile(string(bundle.Backend), elapsed, false)
			m.metrics.ObserveError("shader", "compile")
		}
		m.sink.Emit(ctx, "pipeline.compile", elapsed, false,
			map[string]any{"pipeline": bundle.Name, "backend": string(bundle.Backend)})
		return nil, failure
	}

	pipeline := &CompiledPipeline{
		ID:              uuid.NewString(),
		Name:            bundle.Name,
		Backend:         bundle.Backend,
		SourceHash:      bundle.SourceHash(),
		Handle:          handle,
		CompilationTime: elapsed,
		LastUsedAt:      m.now(),
	}
	entry.state = StateCompiled
	entry.pipeline = pipeline
	close(entry.ready)
	m.mu.Unlock()

	m.logger.Debug("pipeline compiled",
		"pipeline", bundle.Name, "backend", bundle.Backend, "duration", elapsed)
	if m.metrics != nil {
		m.metrics.ObserveCompile(string(bundle.Backend), elapsed, true)
	}
	m.sink.Emit(ctx, "pipeline.compile", elapsed, true,
		map[string]any{"pipeline": bundle.Name, "backend": string(bundle.Backend)})
	return pipeline, nil
}

// State reports the lifecycle state of a pipeline slot.
func (m *Manager) State(name string, backend types.Backend) PipelineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.pipelines[pipelineKey{name: name, backend: backend}]
	if !ok {
		return StateUncompiled
	}
	return entry.state
}

// Invalidate removes a pipeline slot, releasing its compiled handle. This
// is the only way to clear a compile-failed slot for recompilation.
func (m *Manager) Invalidate(name string, backend types.Backend) error {
	key := pipelineKey{name: name, backend: backend}

	m.mu.Lock()
	entry, ok := m.pipelines[key]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if entry.state == StateCompiling {
		m.mu.Unlock()
		return errors.WrapTransient(errors.ErrTierUnavailable, "shader", "Invalidate",
			fmt.Sprintf("pipeline %s/%s has a compile in flight", name, backend))
	}
	delete(m.pipelines, key)
	pipeline := entry.pipeline
	m.mu.Unlock()

	if pipeline != nil {
		if platform, err := m.platform(backend); err == nil {
			return platform.Release(pipeline.Handle)
		}
	}
	return nil
}

// ExecuteShader dispatches a packed batch of dim-length vectors through a
// compiled pipeline. Execution never compiles on demand: an absent slot is
// PipelineNotFound and a failed slot returns its CompilationError. timeout
// bounds the dispatch; zero means no bound beyond ctx.
func (m *Manager) ExecuteShader(ctx context.Context, name string, backend types.Backend, input []float32, dim int, timeout time.Duration) ([]float32, error) {
	if dim <= 0 || len(input)%dim != 0 {
		return nil, errors.WrapInvalid(errors.ErrDimensionMismatch, "shader", "ExecuteShader",
			fmt.Sprintf("input length %d is not a multiple of dimension %d", len(input), dim))
	}
	platform, err := m.platform(backend)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	entry, ok := m.pipelines[pipelineKey{name: name, backend: backend}]
	if !ok || entry.state == StateCompiling {
		m.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrPipelineNotFound, "shader", "ExecuteShader",
			fmt.Sprintf("pipeline %s/%s has no compiled entry", name, backend))
	}
	if entry.state == StateCompileFailed {
		failure := entry.err
		m.mu.Unlock()
		return nil, failure
	}
	entry.pipeline.LastUsedAt = m.now()
	handle := entry.pipeline.Handle
	m.mu.Unlock()

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type dispatchResult struct {
		output []float32
		err    error
	}
	resultCh := make(chan dispatchResult, 1)
	start := m.now()
	go func() {
		output, dispatchErr := platform.Dispatch(execCtx, handle, input, dim)
		resultCh <- dispatchResult{output: output, err: dispatchErr}
	}()

	select {
	case r := <-resultCh:
		elapsed := time.Since(start)
		m.sink.Emit(ctx, "pipeline.execute", elapsed, r.err == nil,
			map[string]any{"pipeline": name, "backend": string(backend)})
		if r.err != nil {
			if m.metrics != nil {
				m.metrics.ObserveError("shader", "dispatch")
			}
			return nil, errors.WrapTransient(r.err, "shader", "ExecuteShader",
				fmt.Sprintf("dispatch of %s on %s", name, backend))
		}
		return r.output, nil
	case <-execCtx.Done():
		elapsed := time.Since(start)
		m.sink.Emit(ctx, "pipeline.execute", elapsed, false,
			map[string]any{"pipeline": name, "backend": string(backend), "timeout": true})
		if m.metrics != nil {
			m.metrics.ObserveError("shader", "timeout")
		}
		// Partially dispatched work is the platform's to clean up.
		return nil, errors.WrapTransient(errors.ErrExecutionTimeout, "shader", "ExecuteShader",
			fmt.Sprintf("dispatch of %s on %s exceeded %s", name, backend, timeout))
	}
}

// CreateBuffer allocates a budget-tracked buffer on a backend. On
// BudgetExceeded the manager garbage collects that backend's stale
// resources once and retries the allocation exactly once.
func (m *Manager) CreateBuffer(ctx context.Context, backend types.Backend, sizeBytes int64) (*Resource, error) {
	return m.createResource(ctx, KindBuffer, backend, sizeBytes)
}

// CreateTexture allocates a budget-tracked texture on a backend with the
// same GC-and-retry-once policy as CreateBuffer.
func (m *Manager) CreateTexture(ctx context.Context, backend types.Backend, sizeBytes int64) (*Resource, error) {
	return m.createResource(ctx, KindTexture, backend, sizeBytes)
}

// CreateBindGroup allocates a budget-tracked bind group on a backend with
// the same GC-and-retry-once policy as CreateBuffer.
func (m *Manager) CreateBindGroup(ctx context.Context, backend types.Backend, sizeBytes int64) (*Resource, error) {
	return m.createResource(ctx, KindBindGroup, backend, sizeBytes)
}

func (m *Manager) createResource(ctx context.Context, kind ResourceKind, backend types.Backend, sizeBytes int64) (*Resource, error) {
	if _, err := m.platform(backend); err != nil {
		return nil, err
	}

	gcRan := false
	reservation, err := retry.DoWithResult(ctx, retry.Once(), func() (*budget.Reservation, error) {
		r, err := m.tracker.TryAllocate(backend, sizeBytes)
		if err == nil {
			return r, nil
		}
		if !stderrors.Is(err, errors.ErrBudgetExceeded) {
			return nil, retry.NonRetryable(err)
		}
		if !gcRan {
			gcRan = true
			reclaimed := m.GarbageCollect(backend)
			m.logger.Debug("budget pressure triggered resource gc",
				"backend", backend, "reclaimed", reclaimed, "requested_bytes", sizeBytes)
		}
		return nil, err
	})
	if err != nil {
		return nil, err
	}

	t := m.now()
	resource := &Resource{
		ID:          newResourceID(kind),
		Kind:        kind,
		Backend:     backend,
		SizeBytes:   sizeBytes,
		CreatedAt:   t,
		LastUsedAt:  t,
		reservation: reservation,
	}
	m.resources.add(resource)
	m.sink.Emit(ctx, "resource.create", 0, true,
		map[string]any{"kind": string(kind), "backend": string(backend), "size_bytes": sizeBytes})
	return resource, nil
}

// DestroyBuffer frees a tracked buffer. Budget accounting is released
// before the resource leaves the pool map; a platform destroy failure is
// surfaced but never leaks budget.
func (m *Manager) DestroyBuffer(id string) error { return m.resources.remove(id) }

// DestroyTexture frees a tracked texture.
func (m *Manager) DestroyTexture(id string) error { return m.resources.remove(id) }

// DestroyBindGroup frees a tracked bind group.
func (m *Manager) DestroyBindGroup(id string) error { return m.resources.remove(id) }

// TouchResource marks a resource as recently used.
func (m *Manager) TouchResource(id string) bool { return m.resources.touch(id) }

// GarbageCollect reclaims the backend's resources unused past the
// configured age threshold and returns the number reclaimed.
func (m *Manager) GarbageCollect(backend types.Backend) int {
	return m.resources.collect(backend, m.cfg.GCMaxAge)
}

// Stats is a read-only snapshot of manager state.
type Stats struct {
	Pipelines map[string]string                  `json:"pipelines"` // "name/backend" -> state
	Resources map[ResourceKind]int               `json:"resources"`
	Pools     map[types.Backend]budget.PoolStats `json:"pools"`
}

// GetStats returns a snapshot of pipeline states, resource counts and pool
// utilization. Safe to call from any goroutine.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	pipelines := make(map[string]string, len(m.pipelines))
	for key, entry := range m.pipelines {
		pipelines[key.name+"/"+string(key.backend)] = entry.state.String()
	}
	m.mu.Unlock()

	return Stats{
		Pipelines: pipelines,
		Resources: m.resources.countByKind(),
		Pools:     m.tracker.Stats(),
	}
}

// Shutdown releases every cached pipeline and tracked resource. The
// manager must not be used afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	entries := m.pipelines
	m.pipelines = make(map[pipelineKey]*pipelineEntry)
	m.mu.Unlock()

	for key, entry := range entries {
		if entry.pipeline != nil {
			if platform, err := m.platform(key.backend); err == nil {
				_ = platform.Release(entry.pipeline.Handle)
			}
		}
	}

	m.resources.mu.Lock()
	all := make([]*Resource, 0, len(m.resources.resources))
	for _, r := range m.resources.resources {
		all = append(all, r)
	}
	m.resources.resources = make(map[string]*Resource)
	m.resources.mu.Unlock()

	for _, r := range all {
		_ = r.reservation.Release()
		if r.destroy != nil {
			_ = r.destroy()
		}
	}
}
