package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/gpukit/errors"
)

// Config holds multi-tier cache limits. Every threshold is a named field so
// tests can inject small values for fast deterministic runs.
type Config struct {
	// HotCapacity is the maximum number of promoted entries (default 100).
	HotCapacity int
	// PromotionThreshold is the warm-tier access count at which an entry is
	// promoted to Hot (default 5).
	PromotionThreshold int64
	// WarmMaxEntries bounds the warm tier entry count (default 1024).
	WarmMaxEntries int
	// WarmMaxBytes bounds the warm tier accounted size (default 64 MiB).
	WarmMaxBytes int64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		HotCapacity:        100,
		PromotionThreshold: 5,
		WarmMaxEntries:     1024,
		WarmMaxBytes:       64 * 1024 * 1024,
	}
}

// Validate ensures the configuration is usable.
func (c Config) Validate() error {
	if c.HotCapacity <= 0 || c.WarmMaxEntries <= 0 || c.WarmMaxBytes <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			"tier capacities must be positive")
	}
	if c.PromotionThreshold <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "cache", "Validate",
			"promotion threshold must be positive")
	}
	return nil
}

// MultiTierCache promotes and demotes entries across Hot, Warm and an
// optional Cold tier based on access frequency.
//
// Lookup order is Hot, then Warm, then Cold. A Warm hit records an access
// that may promote the entry to Hot; a Cold hit repopulates Warm but never
// promotes directly to Hot. Writes always land in Warm first.
//
// Locks are tier-local and always taken in Hot -> Warm -> Cold order, so a
// single Invalidate call is atomic with respect to concurrent readers.
type MultiTierCache[V any] struct {
	cfg  Config
	opts *cacheOptions[V]
	seq  atomic.Uint64

	// Lock order: hotMu before warmMu, never the reverse.
	hotMu sync.Mutex
	hot   map[string]*Entry[V]

	warmMu    sync.Mutex
	warm      map[string]*Entry[V]
	warmBytes int64

	cold Tier[V]

	hotStats  *Statistics
	warmStats *Statistics
	coldStats *Statistics
	metrics   *cacheMetrics
}

// New creates a multi-tier cache.
func New[V any](cfg Config, options ...Option[V]) (*MultiTierCache[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := applyOptions(options...)

	var metrics *cacheMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "New", "metrics registration")
		}
	}

	return &MultiTierCache[V]{
		cfg:       cfg,
		opts:      opts,
		hot:       make(map[string]*Entry[V]),
		warm:      make(map[string]*Entry[V]),
		cold:      opts.cold,
		hotStats:  NewStatistics(),
		warmStats: NewStatistics(),
		coldStats: NewStatistics(),
		metrics:   metrics,
	}, nil
}

// Get retrieves a value, checking Hot, then Warm, then Cold. The returned
// TierName reports which tier served the hit (TierNone on miss). The error
// is non-nil only for cold tier failures.
func (c *MultiTierCache[V]) Get(ctx context.Context, key string) (V, TierName, error) {
	var zero V
	if err := validateKey(key); err != nil {
		return zero, TierNone, err
	}
	now := c.opts.now()

	// Hot tier
	c.hotMu.Lock()
	if entry, ok := c.hot[key]; ok {
		entry.Touch(now, c.seq.Add(1))
		value := entry.Value
		c.hotMu.Unlock()
		c.hotStats.Hit()
		if c.metrics != nil {
			c.metrics.recordHit(TierHot)
		}
		return value, TierHot, nil
	}
	c.hotMu.Unlock()
	c.hotStats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss(TierHot)
	}

	// Warm tier
	c.warmMu.Lock()
	if entry, ok := c.warm[key]; ok {
		entry.Touch(now, c.seq.Add(1))
		value := entry.Value
		promote := entry.AccessCount >= c.cfg.PromotionThreshold
		if promote {
			c.warmBytes -= entry.SizeBytes
			delete(c.warm, key)
			c.updateWarmGauges()
		}
		c.warmMu.Unlock()

		c.warmStats.Hit()
		if c.metrics != nil {
			c.metrics.recordHit(TierWarm)
		}
		if promote {
			c.promoteToHot(entry)
		}
		return value, TierWarm, nil
	}
	c.warmMu.Unlock()
	c.warmStats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss(TierWarm)
	}

	// Cold tier
	if c.cold == nil {
		return zero, TierNone, nil
	}
	value, ok, err := c.cold.Get(ctx, key)
	if err != nil {
		return zero, TierNone, errors.WrapTransient(err, "cache", "Get", "cold tier lookup")
	}
	if !ok {
		c.coldStats.Miss()
		if c.metrics != nil {
			c.metrics.recordMiss(TierCold)
		}
		return zero, TierNone, nil
	}
	c.coldStats.Hit()
	if c.metrics != nil {
		c.metrics.recordHit(TierCold)
	}

	// Repopulate Warm; a cold hit never promotes straight to Hot.
	sizeBytes := int64(0)
	if c.opts.sizer != nil {
		sizeBytes = c.opts.sizer(value)
	}
	c.putWarm(key, value, sizeBytes)
	return value, TierCold, nil
}

// Put stores a value using the configured sizer for accounting.
func (c *MultiTierCache[V]) Put(ctx context.Context, key string, value V) error {
	if c.opts.sizer == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "cache", "Put",
			"no sizer configured; use PutSized")
	}
	return c.PutSized(ctx, key, value, c.opts.sizer(value))
}

// PutSized stores a value with an explicit accounted size. The write always
// lands in Warm; if a Hot copy exists it is refreshed in place. With a cold
// tier configured the value is also written through, best effort.
func (c *MultiTierCache[V]) PutSized(ctx context.Context, key string, value V, sizeBytes int64) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if sizeBytes < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "PutSized",
			fmt.Sprintf("negative size %d", sizeBytes))
	}
	if sizeBytes > c.cfg.WarmMaxBytes {
		return errors.WrapInvalid(errors.ErrEntryTooLarge, "cache", "PutSized",
			fmt.Sprintf("%d bytes exceeds warm cap %d", sizeBytes, c.cfg.WarmMaxBytes))
	}

	// Refresh any Hot copy so promoted readers never see a stale value.
	c.hotMu.Lock()
	if entry, ok := c.hot[key]; ok {
		entry.Value = value
		entry.SizeBytes = sizeBytes
	}
	c.hotMu.Unlock()

	c.putWarm(key, value, sizeBytes)
	c.warmStats.Set()

	if c.cold != nil {
		// Cold is best effort: a failed write degrades to warm-only.
		_ = c.cold.Put(ctx, key, value, sizeBytes)
	}
	return nil
}

// putWarm inserts or updates a warm entry, evicting lowest-priority entries
// until both the count and byte caps hold.
func (c *MultiTierCache[V]) putWarm(key string, value V, sizeBytes int64) {
	type evicted struct {
		key   string
		value V
	}
	var evictions []evicted

	t := c.opts.now()

	c.warmMu.Lock()
	if entry, ok := c.warm[key]; ok {
		c.warmBytes += sizeBytes - entry.SizeBytes
		entry.Value = value
		entry.SizeBytes = sizeBytes
		entry.LastAccessedAt = t
		entry.seq = c.seq.Add(1)
	} else {
		entry := &Entry[V]{
			Key:            key,
			Value:          value,
			SizeBytes:      sizeBytes,
			CreatedAt:      t,
			LastAccessedAt: t,
			AccessCount:    1,
			seq:            c.seq.Add(1),
		}
		c.warm[key] = entry
		c.warmBytes += sizeBytes
	}

	// Evict least-used, then oldest, until the caps hold. The entry just
	// written is never the victim of its own Put.
	for len(c.warm) > c.cfg.WarmMaxEntries || c.warmBytes > c.cfg.WarmMaxBytes {
		victim := c.lowestPriorityWarm(key)
		if victim == nil {
			break
		}
		delete(c.warm, victim.Key)
		c.warmBytes -= victim.SizeBytes
		evictions = append(evictions, evicted{victim.Key, victim.Value})
		c.warmStats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction(TierWarm)
		}
	}
	c.updateWarmGauges()
	c.warmMu.Unlock()

	// Eviction callbacks run outside the lock to prevent deadlock.
	if c.opts.evictCallback != nil {
		for _, e := range evictions {
			c.opts.evictCallback(e.key, e.value)
		}
	}
}

// lowestPriorityWarm returns the eviction victim: lowest AccessCount first,
// ties broken by oldest access. The skip key is exempt so a fresh write
// cannot evict itself. Must be called with warmMu held.
func (c *MultiTierCache[V]) lowestPriorityWarm(skip string) *Entry[V] {
	var victim *Entry[V]
	for _, entry := range c.warm {
		if entry.Key == skip {
			continue
		}
		if victim == nil ||
			entry.AccessCount < victim.AccessCount ||
			(entry.AccessCount == victim.AccessCount && entry.seq < victim.seq) {
			victim = entry
		}
	}
	return victim
}

// promoteToHot installs an entry in the Hot tier, evicting the entry with
// the oldest access when the tier is full.
func (c *MultiTierCache[V]) promoteToHot(entry *Entry[V]) {
	type evicted struct {
		key   string
		value V
	}
	var evictions []evicted

	c.hotMu.Lock()
	for len(c.hot) >= c.cfg.HotCapacity {
		var victim *Entry[V]
		for _, e := range c.hot {
			if victim == nil || e.seq < victim.seq {
				victim = e
			}
		}
		if victim == nil {
			break
		}
		delete(c.hot, victim.Key)
		evictions = append(evictions, evicted{victim.Key, victim.Value})
		c.hotStats.Eviction()
		if c.metrics != nil {
			c.metrics.recordEviction(TierHot)
		}
	}
	c.hot[entry.Key] = entry
	hotLen := len(c.hot)
	c.hotMu.Unlock()

	c.hotStats.Promotion()
	c.hotStats.UpdateSize(int64(hotLen), 0)
	if c.metrics != nil {
		c.metrics.recordPromotion()
		c.metrics.updateSize(TierHot, hotLen)
	}

	if c.opts.evictCallback != nil {
		for _, e := range evictions {
			c.opts.evictCallback(e.key, e.value)
		}
	}
}

// Invalidate removes the given keys from every tier. In-memory tiers are
// locked in Hot -> Warm order for the duration of the call so no concurrent
// reader observes a partial removal.
func (c *MultiTierCache[V]) Invalidate(ctx context.Context, keys ...string) error {
	c.hotMu.Lock()
	c.warmMu.Lock()
	for _, key := range keys {
		delete(c.hot, key)
		if entry, ok := c.warm[key]; ok {
			c.warmBytes -= entry.SizeBytes
			delete(c.warm, key)
		}
	}
	c.updateWarmGauges()
	c.warmMu.Unlock()
	c.hotMu.Unlock()

	if c.cold != nil {
		for _, key := range keys {
			if err := c.cold.Delete(ctx, key); err != nil {
				return errors.WrapTransient(err, "cache", "Invalidate", "cold tier delete")
			}
		}
	}
	return nil
}

// Snapshot is a read-only view of the cache's per-tier statistics.
type Snapshot struct {
	Hot  StatsSummary `json:"hot"`
	Warm StatsSummary `json:"warm"`
	Cold StatsSummary `json:"cold"`
}

// Stats returns per-tier statistics. Safe to call from any goroutine.
func (c *MultiTierCache[V]) Stats() Snapshot {
	return Snapshot{
		Hot:  c.hotStats.Summary(),
		Warm: c.warmStats.Summary(),
		Cold: c.coldStats.Summary(),
	}
}

// WarmLen returns the current warm tier entry count.
func (c *MultiTierCache[V]) WarmLen() int {
	c.warmMu.Lock()
	defer c.warmMu.Unlock()
	return len(c.warm)
}

// HotLen returns the current hot tier entry count.
func (c *MultiTierCache[V]) HotLen() int {
	c.hotMu.Lock()
	defer c.hotMu.Unlock()
	return len(c.hot)
}

// WarmKeys returns the warm tier keys in no particular order.
func (c *MultiTierCache[V]) WarmKeys() []string {
	c.warmMu.Lock()
	defer c.warmMu.Unlock()
	keys := make([]string, 0, len(c.warm))
	for k := range c.warm {
		keys = append(keys, k)
	}
	return keys
}

// Clear removes all entries from the in-memory tiers. The cold tier is left
// untouched; use Invalidate for targeted removal across all tiers.
func (c *MultiTierCache[V]) Clear() {
	c.hotMu.Lock()
	c.warmMu.Lock()
	c.hot = make(map[string]*Entry[V])
	c.warm = make(map[string]*Entry[V])
	c.warmBytes = 0
	c.updateWarmGauges()
	c.warmMu.Unlock()
	c.hotMu.Unlock()
}

// updateWarmGauges refreshes warm tier size stats. Must be called with
// warmMu held.
func (c *MultiTierCache[V]) updateWarmGauges() {
	c.warmStats.UpdateSize(int64(len(c.warm)), c.warmBytes)
	if c.metrics != nil {
		c.metrics.updateSize(TierWarm, len(c.warm))
	}
}
