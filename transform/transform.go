// Package transform memoizes 2D/3D transform matrices keyed by a content
// hash of the input state. Recomputation is cheap, so the cache is a plain
// FIFO: when the capacity is exceeded the oldest fifth of the entries is
// trimmed in insertion order. Hash collisions are tolerated as a cache
// correctness risk, not a security one.
package transform

import (
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/c360/gpukit/errors"
)

// State is the input to transform generation.
type State struct {
	TranslateX float64
	TranslateY float64
	ScaleX     float64
	ScaleY     float64
	// Rotation is in radians.
	Rotation float64
}

// IdentityState returns the no-op transform input.
func IdentityState() State {
	return State{ScaleX: 1, ScaleY: 1}
}

// hash returns a djb2 hash of the state's canonical encoding.
func (s State) hash() uint64 {
	h := uint64(5381)
	for _, f := range [5]float64{s.TranslateX, s.TranslateY, s.ScaleX, s.ScaleY, s.Rotation} {
		encoded := strconv.FormatFloat(f, 'g', -1, 64)
		for i := 0; i < len(encoded); i++ {
			h = h*33 + uint64(encoded[i])
		}
		h = h*33 + '|'
	}
	return h
}

// Transforms is the generated output for one state: a 2D affine matrix in
// (a, b, c, d, e, f) order, its CSS serialization, and a column-major 4x4
// matrix for GPU upload.
type Transforms struct {
	Matrix2D    [6]float64
	CSSString   string
	WebGLMatrix [16]float32
}

// generate computes the transforms for a state. Pure and deterministic.
func generate(s State) Transforms {
	sin, cos := math.Sincos(s.Rotation)
	a := s.ScaleX * cos
	b := s.ScaleX * sin
	c := -s.ScaleY * sin
	d := s.ScaleY * cos
	e := s.TranslateX
	f := s.TranslateY

	return Transforms{
		Matrix2D: [6]float64{a, b, c, d, e, f},
		CSSString: fmt.Sprintf("matrix(%s, %s, %s, %s, %s, %s)",
			formatCSS(a), formatCSS(b), formatCSS(c), formatCSS(d), formatCSS(e), formatCSS(f)),
		WebGLMatrix: [16]float32{
			float32(a), float32(b), 0, 0,
			float32(c), float32(d), 0, 0,
			0, 0, 1, 0,
			float32(e), float32(f), 0, 1,
		},
	}
}

func formatCSS(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}

// Lib is the memoizing transform generator.
type Lib struct {
	capacity     int
	trimFraction float64

	mu      sync.Mutex
	entries map[uint64]Transforms
	order   []uint64

	hits   int64
	misses int64
}

// Config holds transform cache settings.
type Config struct {
	// Capacity bounds the memo (default 100).
	Capacity int
	// TrimFraction of the oldest entries is dropped when the capacity is
	// exceeded (default 0.2).
	TrimFraction float64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{Capacity: 100, TrimFraction: 0.2}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "transform", "Validate",
			"capacity must be positive")
	}
	if c.TrimFraction <= 0 || c.TrimFraction >= 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "transform", "Validate",
			"trim fraction must be in (0, 1)")
	}
	return nil
}

// NewLib creates a transform cache.
func NewLib(cfg Config) (*Lib, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Lib{
		capacity:     cfg.Capacity,
		trimFraction: cfg.TrimFraction,
		entries:      make(map[uint64]Transforms, cfg.Capacity),
	}, nil
}

// GenerateTransforms returns the transforms for a state, computing and
// memoizing them on first sight.
func (l *Lib) GenerateTransforms(state State) Transforms {
	key := state.hash()

	l.mu.Lock()
	if cached, ok := l.entries[key]; ok {
		l.hits++
		l.mu.Unlock()
		return cached
	}
	l.mu.Unlock()

	result := generate(state)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.misses++
	if _, ok := l.entries[key]; !ok {
		l.entries[key] = result
		l.order = append(l.order, key)
		if len(l.entries) > l.capacity {
			l.trimLocked()
		}
	}
	return result
}

// trimLocked drops the oldest trimFraction of entries in insertion order.
// Must be called with mu held.
func (l *Lib) trimLocked() {
	drop := int(float64(len(l.order)) * l.trimFraction)
	if drop < 1 {
		drop = 1
	}
	for _, key := range l.order[:drop] {
		delete(l.entries, key)
	}
	l.order = append([]uint64(nil), l.order[drop:]...)
}

// LibStats is a read-only cache snapshot.
type LibStats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns a snapshot of the memo.
func (l *Lib) Stats() LibStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LibStats{Entries: len(l.entries), Hits: l.hits, Misses: l.misses}
}

// Clear drops every memoized entry.
func (l *Lib) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[uint64]Transforms, l.capacity)
	l.order = nil
}
