package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/c360/gpukit/errors"
)

func newTestCache(t *testing.T, cfg Config, options ...Option[string]) *MultiTierCache[string] {
	t.Helper()
	options = append(options, WithSizer[string](func(v string) int64 { return int64(len(v)) }))
	c, err := New[string](cfg, options...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

// fakeColdTier is an in-memory Tier used to exercise cold tier paths
// without a Redis instance.
type fakeColdTier struct {
	mu      sync.Mutex
	data    map[string]string
	getErr  error
	gets    int
	puts    int
	deletes int
}

func newFakeColdTier() *fakeColdTier {
	return &fakeColdTier{data: make(map[string]string)}
}

func (f *fakeColdTier) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeColdTier) Put(_ context.Context, key, value string, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.data[key] = value
	return nil
}

func (f *fakeColdTier) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.data, key)
	return nil
}

func TestPutGetWarmTier(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()

	if err := c.Put(ctx, "key1", "value1"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, tier, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tier != TierWarm {
		t.Errorf("expected warm tier hit, got %s", tier)
	}
	if value != "value1" {
		t.Errorf("expected value1, got %s", value)
	}
}

func TestGetMiss(t *testing.T) {
	c := newTestCache(t, DefaultConfig())

	_, tier, err := c.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tier != TierNone {
		t.Errorf("expected TierNone on miss, got %s", tier)
	}

	stats := c.Stats()
	if stats.Warm.Misses != 1 {
		t.Errorf("expected 1 warm miss, got %d", stats.Warm.Misses)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	c := newTestCache(t, DefaultConfig())

	if err := c.Put(context.Background(), "", "v"); err == nil {
		t.Error("expected error for empty key")
	}
	if _, _, err := c.Get(context.Background(), ""); err == nil {
		t.Error("expected error for empty key")
	}
}

// TestWarmEvictionOrder verifies the eviction policy with a capacity of 3:
// insert A, B, C (access count 1 each), access A twice more (count 3), then
// insert D. B is the least-used entry with the oldest access, so B goes.
func TestWarmEvictionOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmMaxEntries = 3
	c := newTestCache(t, cfg)
	ctx := context.Background()

	for _, key := range []string{"A", "B", "C"} {
		if err := c.Put(ctx, key, "v-"+key); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}
	for i := 0; i < 2; i++ {
		if _, _, err := c.Get(ctx, "A"); err != nil {
			t.Fatalf("Get A failed: %v", err)
		}
	}

	if err := c.Put(ctx, "D", "v-D"); err != nil {
		t.Fatalf("Put D failed: %v", err)
	}

	keys := c.WarmKeys()
	sort.Strings(keys)
	want := []string{"A", "C", "D"}
	if len(keys) != len(want) {
		t.Fatalf("expected keys %v, got %v", want, keys)
	}
	for i, k := range want {
		if keys[i] != k {
			t.Fatalf("expected keys %v, got %v", want, keys)
		}
	}
	if stats := c.Stats(); stats.Warm.Evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", stats.Warm.Evictions)
	}
}

func TestWarmPutNeverEvictsItself(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmMaxEntries = 2
	cfg.PromotionThreshold = 10
	c := newTestCache(t, cfg)
	ctx := context.Background()

	// Residents with access counts well above a fresh write.
	for _, key := range []string{"a", "b"} {
		if err := c.Put(ctx, key, "v-"+key); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
		for i := 0; i < 2; i++ {
			if _, _, err := c.Get(ctx, key); err != nil {
				t.Fatalf("Get %s failed: %v", key, err)
			}
		}
	}

	if err := c.Put(ctx, "c", "v-c"); err != nil {
		t.Fatalf("Put c failed: %v", err)
	}

	// The write must displace a resident, not vanish.
	v, tier, err := c.Get(ctx, "c")
	if err != nil {
		t.Fatalf("Get c failed: %v", err)
	}
	if tier != TierWarm {
		t.Fatalf("expected c in warm tier, got %v", tier)
	}
	if v != "v-c" {
		t.Errorf("expected v-c, got %q", v)
	}
	if got := c.WarmLen(); got != 2 {
		t.Errorf("expected 2 warm entries, got %d", got)
	}
}

func TestWarmByteCapEvictsMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmMaxBytes = 10
	c := newTestCache(t, cfg)
	ctx := context.Background()

	// 4 + 4 = 8 bytes resident.
	if err := c.Put(ctx, "a", "aaaa"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Put(ctx, "b", "bbbb"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	// 4 more bytes pushes past the cap; evicting one entry is enough.
	if err := c.Put(ctx, "c", "cccc"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if got := c.WarmLen(); got != 2 {
		t.Errorf("expected 2 entries after byte-cap eviction, got %d", got)
	}
	if stats := c.Stats(); stats.Warm.Evictions != 1 {
		t.Errorf("expected exactly 1 eviction, got %d", stats.Warm.Evictions)
	}
}

func TestEntryTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmMaxBytes = 4
	c := newTestCache(t, cfg)

	err := c.Put(context.Background(), "big", "too large value")
	if !stderrors.Is(err, errors.ErrEntryTooLarge) {
		t.Errorf("expected ErrEntryTooLarge, got %v", err)
	}
}

func TestPromotionToHot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PromotionThreshold = 3
	c := newTestCache(t, cfg)
	ctx := context.Background()

	if err := c.Put(ctx, "popular", "v"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Put counts as access 1; two warm hits reach the threshold.
	for i := 0; i < 2; i++ {
		_, tier, err := c.Get(ctx, "popular")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if tier != TierWarm {
			t.Fatalf("access %d: expected warm hit, got %s", i+1, tier)
		}
	}

	// Promotion happened on the access that hit the threshold; the next
	// lookup is served from Hot.
	_, tier, err := c.Get(ctx, "popular")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tier != TierHot {
		t.Errorf("expected hot tier hit after promotion, got %s", tier)
	}
	if got := c.HotLen(); got != 1 {
		t.Errorf("expected 1 hot entry, got %d", got)
	}
	if got := c.WarmLen(); got != 0 {
		t.Errorf("expected entry moved out of warm, got %d resident", got)
	}
	if stats := c.Stats(); stats.Hot.Promotions != 1 {
		t.Errorf("expected 1 promotion, got %d", stats.Hot.Promotions)
	}
}

func TestHotCapacityEvictsOldest(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HotCapacity = 2
	cfg.PromotionThreshold = 2
	c := newTestCache(t, cfg)
	ctx := context.Background()

	promote := func(key string) {
		t.Helper()
		if err := c.Put(ctx, key, "v-"+key); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
		if _, _, err := c.Get(ctx, key); err != nil {
			t.Fatalf("Get %s failed: %v", key, err)
		}
	}

	promote("first")
	promote("second")
	promote("third")

	if got := c.HotLen(); got != 2 {
		t.Fatalf("expected hot tier at capacity 2, got %d", got)
	}
	// "first" had the oldest access when "third" was promoted.
	if _, tier, _ := c.Get(ctx, "first"); tier == TierHot {
		t.Error("expected first to have been evicted from hot")
	}
	if _, tier, _ := c.Get(ctx, "third"); tier != TierHot {
		t.Errorf("expected third in hot, got %s", tier)
	}
}

func TestColdHitRepopulatesWarmOnly(t *testing.T) {
	cold := newFakeColdTier()
	cold.data["archived"] = "from-cold"
	c := newTestCache(t, DefaultConfig(), WithColdTier[string](cold))
	ctx := context.Background()

	value, tier, err := c.Get(ctx, "archived")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tier != TierCold {
		t.Fatalf("expected cold tier hit, got %s", tier)
	}
	if value != "from-cold" {
		t.Errorf("expected from-cold, got %s", value)
	}

	// Repopulated into Warm, never straight into Hot.
	if got := c.HotLen(); got != 0 {
		t.Errorf("cold hit must not promote to hot, got %d hot entries", got)
	}
	_, tier, err = c.Get(ctx, "archived")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tier != TierWarm {
		t.Errorf("expected warm hit after repopulation, got %s", tier)
	}
}

func TestColdTierError(t *testing.T) {
	cold := newFakeColdTier()
	cold.getErr = fmt.Errorf("connection refused")
	c := newTestCache(t, DefaultConfig(), WithColdTier[string](cold))

	_, _, err := c.Get(context.Background(), "anything")
	if err == nil {
		t.Fatal("expected cold tier error to surface")
	}
	if !errors.IsTransient(err) {
		t.Errorf("expected transient classification, got %v", err)
	}
}

func TestPutWritesThroughToCold(t *testing.T) {
	cold := newFakeColdTier()
	c := newTestCache(t, DefaultConfig(), WithColdTier[string](cold))

	if err := c.Put(context.Background(), "k", "v"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if cold.puts != 1 {
		t.Errorf("expected 1 cold write, got %d", cold.puts)
	}
}

func TestInvalidateRemovesFromAllTiers(t *testing.T) {
	cold := newFakeColdTier()
	cfg := DefaultConfig()
	cfg.PromotionThreshold = 2
	c := newTestCache(t, cfg, WithColdTier[string](cold))
	ctx := context.Background()

	if err := c.Put(ctx, "k", "v"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, _, err := c.Get(ctx, "k"); err != nil { // promotes to hot
		t.Fatalf("Get failed: %v", err)
	}
	if got := c.HotLen(); got != 1 {
		t.Fatalf("expected promoted entry, got %d hot entries", got)
	}

	if err := c.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	if _, tier, _ := c.Get(ctx, "k"); tier != TierNone {
		t.Errorf("expected full miss after invalidation, got %s", tier)
	}
	if cold.deletes != 1 {
		t.Errorf("expected 1 cold delete, got %d", cold.deletes)
	}
}

func TestPutRefreshesHotCopy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PromotionThreshold = 2
	c := newTestCache(t, cfg)
	ctx := context.Background()

	if err := c.Put(ctx, "k", "old"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, _, err := c.Get(ctx, "k"); err != nil { // promotes
		t.Fatalf("Get failed: %v", err)
	}
	if err := c.Put(ctx, "k", "new"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, tier, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if tier != TierHot {
		t.Fatalf("expected hot hit, got %s", tier)
	}
	if value != "new" {
		t.Errorf("hot tier served stale value %q", value)
	}
}

func TestEvictionCallback(t *testing.T) {
	var mu sync.Mutex
	var evicted []string

	cfg := DefaultConfig()
	cfg.WarmMaxEntries = 2
	c := newTestCache(t, cfg, WithEvictionCallback[string](func(key, _ string) {
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	}))
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if err := c.Put(ctx, key, "v"); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(evicted) != 1 || evicted[0] != "a" {
		t.Errorf("expected [a] evicted, got %v", evicted)
	}
}

func TestClear(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := c.Put(ctx, fmt.Sprintf("k%d", i), "v"); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	c.Clear()
	if got := c.WarmLen(); got != 0 {
		t.Errorf("expected empty warm tier, got %d", got)
	}
	if got := c.HotLen(); got != 0 {
		t.Errorf("expected empty hot tier, got %d", got)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero hot capacity", func(c *Config) { c.HotCapacity = 0 }, true},
		{"zero warm entries", func(c *Config) { c.WarmMaxEntries = 0 }, true},
		{"negative warm bytes", func(c *Config) { c.WarmMaxBytes = -1 }, true},
		{"zero promotion threshold", func(c *Config) { c.PromotionThreshold = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConcurrentAccess(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmMaxEntries = 64
	c := newTestCache(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				key := fmt.Sprintf("key-%d", i%20)
				if i%3 == 0 {
					_ = c.Put(ctx, key, fmt.Sprintf("v-%d-%d", g, i))
				} else {
					_, _, _ = c.Get(ctx, key)
				}
			}
		}(g)
	}
	wg.Wait()

	if got := c.WarmLen(); got > cfg.WarmMaxEntries {
		t.Errorf("warm tier exceeded capacity: %d > %d", got, cfg.WarmMaxEntries)
	}
}

func TestStatsTracking(t *testing.T) {
	c := newTestCache(t, DefaultConfig())
	ctx := context.Background()

	_ = c.Put(ctx, "k", "v")
	_, _, _ = c.Get(ctx, "k")
	_, _, _ = c.Get(ctx, "missing")

	stats := c.Stats()
	if stats.Warm.Hits != 1 {
		t.Errorf("expected 1 warm hit, got %d", stats.Warm.Hits)
	}
	if stats.Warm.Misses != 1 {
		t.Errorf("expected 1 warm miss, got %d", stats.Warm.Misses)
	}
	if stats.Hot.Misses != 2 {
		t.Errorf("expected 2 hot misses, got %d", stats.Hot.Misses)
	}
	if stats.Warm.Sets != 1 {
		t.Errorf("expected 1 set, got %d", stats.Warm.Sets)
	}
}
