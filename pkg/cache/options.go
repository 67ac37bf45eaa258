package cache

import (
	"time"

	"github.com/c360/gpukit/metric"
)

// Option configures cache behavior using the functional options pattern.
type Option[V any] func(*cacheOptions[V])

// cacheOptions holds internal configuration for cache instances.
// Stats are always collected; metrics are optional via WithMetrics().
type cacheOptions[V any] struct {
	metricsReg    *metric.MetricsRegistry
	metricsPrefix string
	evictCallback EvictCallback[V]
	sizer         Sizer[V]
	cold          Tier[V]
	now           func() time.Time
}

// WithMetrics enables Prometheus metrics export for cache statistics.
// If registry is nil or prefix empty, this option is ignored.
func WithMetrics[V any](registry *metric.MetricsRegistry, prefix string) Option[V] {
	return func(opts *cacheOptions[V]) {
		if registry != nil && prefix != "" {
			opts.metricsReg = registry
			opts.metricsPrefix = prefix
		}
	}
}

// WithEvictionCallback sets a callback invoked with the key and value of
// every evicted entry. The callback runs outside tier locks.
func WithEvictionCallback[V any](callback EvictCallback[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.evictCallback = callback
	}
}

// WithSizer sets the function that computes the accounted size of a value.
// Required unless every Put supplies an explicit size.
func WithSizer[V any](sizer Sizer[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.sizer = sizer
	}
}

// WithColdTier attaches an optional persistent tier (e.g. Redis). Without
// one, the cache operates with Hot and Warm tiers only.
func WithColdTier[V any](tier Tier[V]) Option[V] {
	return func(opts *cacheOptions[V]) {
		opts.cold = tier
	}
}

// WithClock overrides the time source. Used by tests to make access-order
// eviction deterministic.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(opts *cacheOptions[V]) {
		if now != nil {
			opts.now = now
		}
	}
}

// applyOptions applies functional options to create final cache configuration.
func applyOptions[V any](options ...Option[V]) *cacheOptions[V] {
	opts := &cacheOptions[V]{
		now: time.Now,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
