package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks cache performance counters for one tier.
type Statistics struct {
	// Atomic counters for thread-safe updates
	hits       int64
	misses     int64
	sets       int64
	evictions  int64
	promotions int64

	// Protected by mutex
	mu        sync.RWMutex
	startTime time.Time
	entries   int64
	sizeBytes int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Hit records a cache hit.
func (s *Statistics) Hit() { atomic.AddInt64(&s.hits, 1) }

// Miss records a cache miss.
func (s *Statistics) Miss() { atomic.AddInt64(&s.misses, 1) }

// Set records a cache write.
func (s *Statistics) Set() { atomic.AddInt64(&s.sets, 1) }

// Eviction records a cache eviction.
func (s *Statistics) Eviction() { atomic.AddInt64(&s.evictions, 1) }

// Promotion records a tier promotion.
func (s *Statistics) Promotion() { atomic.AddInt64(&s.promotions, 1) }

// UpdateSize updates the current entry count and accounted bytes.
func (s *Statistics) UpdateSize(entries, sizeBytes int64) {
	s.mu.Lock()
	s.entries = entries
	s.sizeBytes = sizeBytes
	s.mu.Unlock()
}

// Hits returns the total number of cache hits.
func (s *Statistics) Hits() int64 { return atomic.LoadInt64(&s.hits) }

// Misses returns the total number of cache misses.
func (s *Statistics) Misses() int64 { return atomic.LoadInt64(&s.misses) }

// Sets returns the total number of writes.
func (s *Statistics) Sets() int64 { return atomic.LoadInt64(&s.sets) }

// Evictions returns the total number of evictions.
func (s *Statistics) Evictions() int64 { return atomic.LoadInt64(&s.evictions) }

// Promotions returns the total number of tier promotions.
func (s *Statistics) Promotions() int64 { return atomic.LoadInt64(&s.promotions) }

// Entries returns the current number of entries.
func (s *Statistics) Entries() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries
}

// SizeBytes returns the accounted bytes currently cached.
func (s *Statistics) SizeBytes() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sizeBytes
}

// HitRatio returns hits/(hits+misses) in [0,1]; 0 when no requests yet.
func (s *Statistics) HitRatio() float64 {
	hits := s.Hits()
	total := hits + s.Misses()
	if total == 0 {
		return 0.0
	}
	return float64(hits) / float64(total)
}

// Uptime returns how long the cache has been running.
func (s *Statistics) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.startTime)
}

// Reset resets all statistics to zero.
func (s *Statistics) Reset() {
	atomic.StoreInt64(&s.hits, 0)
	atomic.StoreInt64(&s.misses, 0)
	atomic.StoreInt64(&s.sets, 0)
	atomic.StoreInt64(&s.evictions, 0)
	atomic.StoreInt64(&s.promotions, 0)

	s.mu.Lock()
	s.startTime = time.Now()
	s.entries = 0
	s.sizeBytes = 0
	s.mu.Unlock()
}

// StatsSummary is a point-in-time snapshot of one tier's statistics.
type StatsSummary struct {
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Sets       int64   `json:"sets"`
	Evictions  int64   `json:"evictions"`
	Promotions int64   `json:"promotions"`
	Entries    int64   `json:"entries"`
	SizeBytes  int64   `json:"size_bytes"`
	HitRatio   float64 `json:"hit_ratio"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:       s.Hits(),
		Misses:     s.Misses(),
		Sets:       s.Sets(),
		Evictions:  s.Evictions(),
		Promotions: s.Promotions(),
		Entries:    s.Entries(),
		SizeBytes:  s.SizeBytes(),
		HitRatio:   s.HitRatio(),
	}
}
