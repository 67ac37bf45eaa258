// Package budget provides memory budget accounting for compute backends.
//
// A Tracker owns one MemoryPool per backend. The pool is the single source of
// truth for how much budget is left: no component may allocate backend
// resources without a successful TryAllocate first. This is the discipline
// that prevents budget drift across the multiple caches sharing one backend.
package budget

import (
	"fmt"
	"sync"

	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/metric"
	"github.com/c360/gpukit/types"
)

// Config holds budget limits per backend in bytes.
type Config struct {
	Budgets map[types.Backend]int64
}

// DefaultConfig returns budgets suitable for a mid-range device.
func DefaultConfig() Config {
	return Config{
		Budgets: map[types.Backend]int64{
			types.PrimaryGPU:  512 * 1024 * 1024,
			types.FallbackGPU: 256 * 1024 * 1024,
			types.CPU:         1024 * 1024 * 1024,
		},
	}
}

// Validate ensures every configured budget is positive.
func (c Config) Validate() error {
	if len(c.Budgets) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "budget", "Validate",
			"at least one backend budget required")
	}
	for backend, b := range c.Budgets {
		if err := backend.Validate(); err != nil {
			return err
		}
		if b <= 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "budget", "Validate",
				fmt.Sprintf("budget for %s must be positive, got %d", backend, b))
		}
	}
	return nil
}

// pool tracks allocation against one backend's budget.
// Mutated only through Tracker.TryAllocate and Tracker.Free.
type pool struct {
	mu             sync.Mutex
	backend        types.Backend
	budgetBytes    int64
	allocatedBytes int64
	peakBytes      int64
	allocations    int64
	deallocations  int64
}

// PoolStats is a read-only snapshot of one pool's accounting.
type PoolStats struct {
	Backend        types.Backend `json:"backend"`
	AllocatedBytes int64         `json:"allocated_bytes"`
	PeakBytes      int64         `json:"peak_bytes"`
	BudgetBytes    int64         `json:"budget_bytes"`
	Allocations    int64         `json:"allocations"`
	Deallocations  int64         `json:"deallocations"`
	Utilization    float64       `json:"utilization"`
}

// Reservation records a successful allocation. Release returns the bytes to
// the pool; releasing twice is a no-op on the second call.
type Reservation struct {
	Backend   types.Backend
	SizeBytes int64

	tracker  *Tracker
	released bool
	mu       sync.Mutex
}

// Release frees the reserved bytes back to the pool.
func (r *Reservation) Release() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true
	return r.tracker.Free(r.Backend, r.SizeBytes)
}

// Tracker is the memory budget accountant for all backends.
type Tracker struct {
	pools   map[types.Backend]*pool
	metrics *metric.Metrics // optional
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMetrics exports pool accounting as Prometheus gauges on the registry's
// core metrics. If registry is nil the option is ignored.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(t *Tracker) {
		if registry != nil {
			t.metrics = registry.CoreMetrics()
		}
	}
}

// NewTracker creates a tracker with one pool per configured backend.
func NewTracker(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{pools: make(map[types.Backend]*pool, len(cfg.Budgets))}
	for _, opt := range opts {
		opt(t)
	}

	for backend, b := range cfg.Budgets {
		t.pools[backend] = &pool{backend: backend, budgetBytes: b}
		if t.metrics != nil {
			t.metrics.PoolBudgetBytes.WithLabelValues(backend.String()).Set(float64(b))
		}
	}
	return t, nil
}

// TryAllocate atomically reserves sizeBytes against the backend's budget.
// On failure it returns ErrBudgetExceeded without mutating state; callers are
// expected to run eviction and retry once.
func (t *Tracker) TryAllocate(backend types.Backend, sizeBytes int64) (*Reservation, error) {
	if sizeBytes < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "budget", "TryAllocate",
			fmt.Sprintf("negative size %d", sizeBytes))
	}

	p, ok := t.pools[backend]
	if !ok {
		return nil, errors.WrapFatal(errors.ErrBackendUnavailable, "budget", "TryAllocate",
			fmt.Sprintf("no pool for backend %s", backend))
	}

	p.mu.Lock()
	if p.allocatedBytes+sizeBytes > p.budgetBytes {
		p.mu.Unlock()
		if t.metrics != nil {
			t.metrics.PoolBudgetRejections.WithLabelValues(backend.String()).Inc()
		}
		return nil, errors.WrapTransient(errors.ErrBudgetExceeded, "budget", "TryAllocate",
			fmt.Sprintf("%d bytes on %s (allocated %d of %d)",
				sizeBytes, backend, p.allocatedBytes, p.budgetBytes))
	}

	p.allocatedBytes += sizeBytes
	p.allocations++
	if p.allocatedBytes > p.peakBytes {
		p.peakBytes = p.allocatedBytes
	}
	allocated, peak := p.allocatedBytes, p.peakBytes
	p.mu.Unlock()

	if t.metrics != nil {
		t.metrics.PoolAllocatedBytes.WithLabelValues(backend.String()).Set(float64(allocated))
		t.metrics.PoolPeakBytes.WithLabelValues(backend.String()).Set(float64(peak))
		t.metrics.PoolAllocationsTotal.WithLabelValues(backend.String(), "reserve").Inc()
	}

	return &Reservation{Backend: backend, SizeBytes: sizeBytes, tracker: t}, nil
}

// Free returns sizeBytes to the backend's pool. Freeing more than is
// currently allocated is a programming error and fails fast rather than
// clamping: accounting corruption must surface, not hide.
func (t *Tracker) Free(backend types.Backend, sizeBytes int64) error {
	if sizeBytes < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "budget", "Free",
			fmt.Sprintf("negative size %d", sizeBytes))
	}

	p, ok := t.pools[backend]
	if !ok {
		return errors.WrapFatal(errors.ErrBackendUnavailable, "budget", "Free",
			fmt.Sprintf("no pool for backend %s", backend))
	}

	p.mu.Lock()
	if sizeBytes > p.allocatedBytes {
		p.mu.Unlock()
		return errors.WrapFatal(errors.ErrOverFree, "budget", "Free",
			fmt.Sprintf("free of %d exceeds allocated %d on %s", sizeBytes, p.allocatedBytes, backend))
	}
	p.allocatedBytes -= sizeBytes
	p.deallocations++
	allocated := p.allocatedBytes
	p.mu.Unlock()

	if t.metrics != nil {
		t.metrics.PoolAllocatedBytes.WithLabelValues(backend.String()).Set(float64(allocated))
	}
	return nil
}

// MemoryPressure returns allocated/budget for the backend, in [0,1].
// Unknown backends report full pressure so callers degrade rather than
// over-commit.
func (t *Tracker) MemoryPressure(backend types.Backend) float64 {
	p, ok := t.pools[backend]
	if !ok {
		return 1.0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.budgetBytes == 0 {
		return 1.0
	}
	return float64(p.allocatedBytes) / float64(p.budgetBytes)
}

// Stats returns a snapshot of every pool.
func (t *Tracker) Stats() map[types.Backend]PoolStats {
	out := make(map[types.Backend]PoolStats, len(t.pools))
	for backend, p := range t.pools {
		p.mu.Lock()
		s := PoolStats{
			Backend:        backend,
			AllocatedBytes: p.allocatedBytes,
			PeakBytes:      p.peakBytes,
			BudgetBytes:    p.budgetBytes,
			Allocations:    p.allocations,
			Deallocations:  p.deallocations,
		}
		if p.budgetBytes > 0 {
			s.Utilization = float64(p.allocatedBytes) / float64(p.budgetBytes)
		}
		p.mu.Unlock()
		out[backend] = s
	}
	return out
}

// Backends returns the backends this tracker accounts for.
func (t *Tracker) Backends() []types.Backend {
	out := make([]types.Backend, 0, len(t.pools))
	for b := range t.pools {
		out = append(out, b)
	}
	return out
}
