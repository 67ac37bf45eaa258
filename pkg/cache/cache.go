// Package cache provides generic, thread-safe cache primitives and the
// multi-tier cache used throughout gpukit.
//
// The central type is MultiTierCache, which composes three tiers:
//   - Hot: bounded map holding promoted entries only, evicts oldest access
//   - Warm: size- and count-bounded, admits all writes, evicts least-used
//   - Cold: optional persistent tier (Redis), unbounded logical capacity
//
// All caches are thread-safe with built-in statistics (always enabled for
// observability) and optional Prometheus metrics via functional options.
package cache

import (
	"context"
	"time"

	"github.com/c360/gpukit/errors"
)

// TierName identifies a cache tier in lookup order.
type TierName string

// Tier name constants
const (
	TierHot  TierName = "hot"
	TierWarm TierName = "warm"
	TierCold TierName = "cold"
	// TierNone marks a full miss.
	TierNone TierName = "none"
)

// Tier is a pluggable persistent tier. Hot and Warm are built into
// MultiTierCache; Cold is supplied as a Tier so that in-memory and remote
// tiers compose through one contract. Every method takes a context because
// cold tiers perform I/O; in-memory implementations resolve immediately.
type Tier[V any] interface {
	// Get retrieves a value by key. A miss is (zero, false, nil);
	// errors are reserved for tier failures.
	Get(ctx context.Context, key string) (V, bool, error)

	// Put stores a value with its accounted size in bytes.
	Put(ctx context.Context, key string, value V, sizeBytes int64) error

	// Delete removes an entry by key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Sizer computes the accounted size in bytes of a cached value.
// A sizer must be provided at construction for any V whose size the cache
// cannot infer; size accounting is part of the cache contract.
type Sizer[V any] func(value V) int64

// EvictCallback is called when an entry is evicted from a tier.
type EvictCallback[V any] func(key string, value V)

// Entry is the bookkeeping record for a cached value.
type Entry[V any] struct {
	Key            string
	Value          V
	SizeBytes      int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64

	// seq breaks lastAccessedAt ties deterministically; assigned from a
	// per-cache counter on every touch.
	seq uint64
}

// Touch updates access metadata.
func (e *Entry[V]) Touch(now time.Time, seq uint64) {
	e.LastAccessedAt = now
	e.AccessCount++
	e.seq = seq
}

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
