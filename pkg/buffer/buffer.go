// Package buffer provides a bounded ring buffer for recent-item retention.
//
// The Ring keeps the last N items written to it. It is the backing store
// for the telemetry event ring, where losing the oldest events under load
// is the intended behavior.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/c360/gpukit/errors"
)

// OverflowPolicy decides what happens when a full ring is written to.
type OverflowPolicy int

const (
	// DropOldest overwrites the oldest item. The default.
	DropOldest OverflowPolicy = iota
	// DropNewest rejects the incoming item.
	DropNewest
)

// String returns the policy name.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// DropCallback is invoked with each item lost to the overflow policy.
// Called outside the ring lock.
type DropCallback[T any] func(item T)

// Statistics tracks ring activity with atomic counters.
type Statistics struct {
	Writes int64 `json:"writes"`
	Reads  int64 `json:"reads"`
	Drops  int64 `json:"drops"`
	Size   int   `json:"size"`
}

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// WithOverflowPolicy sets the overflow policy.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(r *Ring[T]) { r.policy = policy }
}

// WithDropCallback sets the callback invoked for dropped items.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(r *Ring[T]) { r.onDrop = callback }
}

// Ring is a fixed-capacity circular buffer. All methods are safe for
// concurrent use.
type Ring[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int // next read position
	tail   int // next write position
	size   int
	policy OverflowPolicy
	onDrop DropCallback[T]

	writes int64
	reads  int64
	drops  int64
}

// NewRing creates a ring with the given capacity.
func NewRing[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "buffer", "NewRing",
			"capacity must be positive")
	}
	r := &Ring[T]{items: make([]T, capacity)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Write appends an item, applying the overflow policy when full. Returns
// false only when DropNewest rejected the item.
func (r *Ring[T]) Write(item T) bool {
	var dropped T
	var didDrop bool

	r.mu.Lock()
	if r.size == len(r.items) {
		atomic.AddInt64(&r.drops, 1)
		if r.policy == DropNewest {
			r.mu.Unlock()
			if r.onDrop != nil {
				r.onDrop(item)
			}
			return false
		}
		dropped = r.items[r.head]
		didDrop = true
		r.head = (r.head + 1) % len(r.items)
		r.size--
	}
	r.items[r.tail] = item
	r.tail = (r.tail + 1) % len(r.items)
	r.size++
	atomic.AddInt64(&r.writes, 1)
	r.mu.Unlock()

	if didDrop && r.onDrop != nil {
		r.onDrop(dropped)
	}
	return true
}

// Read removes and returns the oldest item.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.head]
	r.items[r.head] = zero
	r.head = (r.head + 1) % len(r.items)
	r.size--
	atomic.AddInt64(&r.reads, 1)
	return item, true
}

// Snapshot returns the buffered items oldest-first without consuming them.
func (r *Ring[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		out = append(out, r.items[(r.head+i)%len(r.items)])
	}
	return out
}

// Size returns the current item count.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed capacity.
func (r *Ring[T]) Capacity() int {
	return len(r.items)
}

// Clear drops all buffered items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.tail, r.size = 0, 0, 0
}

// Stats returns a snapshot of ring activity.
func (r *Ring[T]) Stats() Statistics {
	r.mu.Lock()
	size := r.size
	r.mu.Unlock()
	return Statistics{
		Writes: atomic.LoadInt64(&r.writes),
		Reads:  atomic.LoadInt64(&r.reads),
		Drops:  atomic.LoadInt64(&r.drops),
		Size:   size,
	}
}
