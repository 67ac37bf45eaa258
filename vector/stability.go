package vector

import (
	"sync"
	"time"

	"github.com/c360/gpukit/errors"
)

// StabilityLevel is the processing quality level the stability tracker has
// settled on.
type StabilityLevel int

// Stability levels
const (
	// Degraded forces aggressive compression after repeated failures.
	Degraded StabilityLevel = iota
	// Normal uses the standard pressure ladder.
	Normal
	// Optimal marks a window where an upscale attempt is in progress.
	Optimal
)

// String returns the level name
func (l StabilityLevel) String() string {
	switch l {
	case Degraded:
		return "degraded"
	case Normal:
		return "normal"
	case Optimal:
		return "optimal"
	default:
		return "unknown"
	}
}

// StabilityConfig holds the thresholds driving quantization selection.
type StabilityConfig struct {
	// MaxConsecutiveFailures forces Degraded once reached (default 3).
	MaxConsecutiveFailures int
	// MinStableOperations gates upscale attempts (default 20).
	MinStableOperations int
	// UpscaleBackoff is the minimum gap between upscale attempts (default 60s).
	UpscaleBackoff time.Duration
	// TargetStabilityWindow is how long the tracker must have been free of
	// regressions before upscaling (default 30s).
	TargetStabilityWindow time.Duration
	// LatencyThreshold marks a nominally successful operation as a soft
	// regression when exceeded (default 100ms).
	LatencyThreshold time.Duration
	// MemoryRegressionRatio marks a soft regression when memory pressure
	// exceeds it (default 0.7).
	MemoryRegressionRatio float64
}

// DefaultStabilityConfig returns the documented defaults.
func DefaultStabilityConfig() StabilityConfig {
	return StabilityConfig{
		MaxConsecutiveFailures: 3,
		MinStableOperations:    20,
		UpscaleBackoff:         60 * time.Second,
		TargetStabilityWindow:  30 * time.Second,
		LatencyThreshold:       100 * time.Millisecond,
		MemoryRegressionRatio:  0.7,
	}
}

// Validate ensures the configuration is usable.
func (c StabilityConfig) Validate() error {
	if c.MaxConsecutiveFailures <= 0 || c.MinStableOperations <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "vector", "Validate",
			"failure and stability thresholds must be positive")
	}
	if c.UpscaleBackoff <= 0 || c.TargetStabilityWindow <= 0 || c.LatencyThreshold <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "vector", "Validate",
			"backoff, stability window and latency threshold must be positive")
	}
	if c.MemoryRegressionRatio <= 0 || c.MemoryRegressionRatio > 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "vector", "Validate",
			"memory regression ratio must be in (0, 1]")
	}
	return nil
}

// StabilitySnapshot is a read-only view of tracker state.
type StabilitySnapshot struct {
	StableOperations     int            `json:"stable_operations"`
	ConsecutiveFailures  int            `json:"consecutive_failures"`
	CurrentLevel         StabilityLevel `json:"current_level"`
	LastStabilityCheckAt time.Time      `json:"last_stability_check_at"`
	LastUpscaleAttemptAt time.Time      `json:"last_upscale_attempt_at"`
}

// StabilityTracker records processing outcomes and decides when it is safe
// to attempt higher-fidelity processing versus when precision must degrade.
// State is in-memory only and never survives a process restart.
type StabilityTracker struct {
	cfg StabilityConfig
	now func() time.Time

	mu                   sync.Mutex
	stableOperations     int
	consecutiveFailures  int
	currentLevel         StabilityLevel
	lastStabilityCheckAt time.Time
	lastUpscaleAttemptAt time.Time
}

// NewStabilityTracker creates a tracker starting at Normal with a clean
// stability window.
func NewStabilityTracker(cfg StabilityConfig, now func() time.Time) (*StabilityTracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &StabilityTracker{
		cfg:                  cfg,
		now:                  now,
		currentLevel:         Normal,
		lastStabilityCheckAt: now(),
	}, nil
}

// TrackOperationSuccess records a completed operation. Failures reset to
// zero and the stable count grows, unless the operation was slow or ran
// under high memory pressure: that counts as a soft regression and resets
// the stability window even though the operation nominally succeeded.
func (t *StabilityTracker) TrackOperationSuccess(duration time.Duration, memoryPressure float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures = 0
	t.stableOperations++

	if duration > t.cfg.LatencyThreshold || memoryPressure > t.cfg.MemoryRegressionRatio {
		t.stableOperations = 0
		t.lastStabilityCheckAt = t.now()
	}
}

// TrackOperationFailure records a failed operation, unconditionally
// resetting the stability window.
func (t *StabilityTracker) TrackOperationFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures++
	t.stableOperations = 0
	t.lastStabilityCheckAt = t.now()
}

// ShouldAttemptUpscale reports whether every upscale condition holds: the
// backoff since the last attempt has elapsed, enough stable operations have
// accumulated, there are no outstanding failures, and the stability window
// has been regression-free long enough.
func (t *StabilityTracker) ShouldAttemptUpscale() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shouldAttemptUpscaleLocked()
}

func (t *StabilityTracker) shouldAttemptUpscaleLocked() bool {
	now := t.now()
	if now.Sub(t.lastUpscaleAttemptAt) <= t.cfg.UpscaleBackoff {
		return false
	}
	if t.stableOperations < t.cfg.MinStableOperations {
		return false
	}
	if t.consecutiveFailures != 0 {
		return false
	}
	if now.Sub(t.lastStabilityCheckAt) <= t.cfg.TargetStabilityWindow {
		return false
	}
	return true
}

// DetermineOptimalQuantization selects the quantization level for the next
// batch from memory pressure and tracker state.
//
// While failures have reached the configured maximum the tracker is
// Degraded and never selects float32. When an upscale attempt is allowed
// and pressure is moderate the tracker marks Optimal, records the attempt,
// and favors less compression as pressure drops. Otherwise the Normal
// pressure ladder applies.
func (t *StabilityTracker) DetermineOptimalQuantization(memoryPressure float64) Level {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.consecutiveFailures >= t.cfg.MaxConsecutiveFailures {
		t.currentLevel = Degraded
		if memoryPressure > 0.6 {
			return Binary
		}
		return Int8
	}

	if t.shouldAttemptUpscaleLocked() && memoryPressure < 0.6 {
		t.currentLevel = Optimal
		t.lastUpscaleAttemptAt = t.now()
		switch {
		case memoryPressure < 0.3:
			return Float32
		case memoryPressure < 0.5:
			return Int8
		default:
			return Int4
		}
	}

	t.currentLevel = Normal
	switch {
	case memoryPressure > 0.8:
		return Binary
	case memoryPressure > 0.6:
		return Int4
	case memoryPressure > 0.4:
		return Int8
	default:
		return Float32
	}
}

// Snapshot returns a read-only copy of the tracker state.
func (t *StabilityTracker) Snapshot() StabilitySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return StabilitySnapshot{
		StableOperations:     t.stableOperations,
		ConsecutiveFailures:  t.consecutiveFailures,
		CurrentLevel:         t.currentLevel,
		LastStabilityCheckAt: t.lastStabilityCheckAt,
		LastUpscaleAttemptAt: t.lastUpscaleAttemptAt,
	}
}
