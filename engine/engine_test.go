package engine

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gpukit/config"
	"github.com/c360/gpukit/shader"
	"github.com/c360/gpukit/texture"
	"github.com/c360/gpukit/types"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend = string(types.CPU)
	cfg.Budgets = map[string]int64{string(types.CPU): 64 * 1024 * 1024}
	cfg.Vector.Dimension = 4
	cfg.Vector.PipelineName = "normalize"
	cfg.Pool = config.PoolConfig{Workers: 2, QueueSize: 8}
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e, err := New(cfg, WithPlatforms(shader.NewCPUPlatform()))
	require.NoError(t, err)
	return e
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	cfg := testConfig()
	cfg.Backend = "quantum"
	_, err = New(cfg)
	require.Error(t, err)
}

func TestStartCompilesPipeline(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	state := e.Shaders().State("normalize", types.CPU)
	assert.Equal(t, shader.StateCompiled, state)
}

func TestStartTwiceFails(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	require.Error(t, e.Start(context.Background()))
}

func TestStartFailsOnUnknownPipeline(t *testing.T) {
	cfg := testConfig()
	cfg.Vector.PipelineName = "warp_drive"
	e := newTestEngine(t, cfg)

	require.Error(t, e.Start(context.Background()))
}

func TestProcessBatchNormalizes(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	out, err := e.ProcessBatch(context.Background(), [][]float32{
		{3, 4, 0, 0},
		{0, 0, 5, 12},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, vec := range out {
		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 0.01)
	}
}

func TestProcessBatchUsesResultCache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = true
	e := newTestEngine(t, cfg)
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	batch := [][]float32{{1, 2, 3, 4}}
	first, err := e.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	second, err := e.ProcessBatch(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats := e.Stats()
	require.NotNil(t, stats.Results)
	assert.GreaterOrEqual(t, stats.Results.Warm.Hits, int64(1))
}

func TestStatsExposesRecentEvents(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	events := e.Stats().Events
	require.NotEmpty(t, events)
	seen := make([]string, 0, len(events))
	for _, ev := range events {
		seen = append(seen, ev.EventType)
	}
	assert.Contains(t, seen, "engine.start")
	assert.Equal(t, events, e.RecentEvents())
}

func TestProcessBatchColdCacheDispatches(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Enabled = true
	e := newTestEngine(t, cfg)
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	// An unseen batch misses every tier; the miss must fall through to the
	// processor rather than surface the empty lookup.
	out, err := e.ProcessBatch(context.Background(), [][]float32{{3, 4, 0, 0}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	var sum float64
	for _, v := range out[0] {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 0.01)

	stats := e.Stats()
	require.NotNil(t, stats.Results)
	assert.GreaterOrEqual(t, stats.Results.Warm.Sets, int64(1))
}

func TestSubmitBatchProcessesAsync(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	require.NoError(t, e.SubmitBatch([][]float32{{1, 0, 0, 0}}, types.PriorityHigh))

	require.Eventually(t, func() bool {
		return e.Stats().Pool.Processed >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitBatchInvalidPriority(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	require.Error(t, e.SubmitBatch([][]float32{{1, 0, 0, 0}}, types.Priority(9)))
}

func TestBatchKeyDependsOnContents(t *testing.T) {
	a := batchKey([][]float32{{1, 2}, {3}})
	b := batchKey([][]float32{{1, 2}, {3}})
	c := batchKey([][]float32{{1, 2, 3}})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestStopReleasesBudget(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(context.Background()))

	err := e.Textures().StreamTexture(context.Background(), "tex-1",
		make([]byte, 1024), texture.PatternBank, 0, texture.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, e.Stop(time.Second))

	for _, pool := range e.Tracker().Stats() {
		assert.Zero(t, pool.AllocatedBytes)
	}
}

func TestStopBeforeStartFails(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.Error(t, e.Stop(time.Second))
}

func TestHealthBeforeStartIsDegraded(t *testing.T) {
	e := newTestEngine(t, testConfig())

	status := e.Health()
	assert.True(t, status.IsDegraded())
}

func TestHealthAfterStartIsHealthy(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	status := e.Health()
	assert.True(t, status.IsHealthy())
	assert.Len(t, status.SubStatuses, 3)
}

func TestStatsAggregates(t *testing.T) {
	e := newTestEngine(t, testConfig())
	require.NoError(t, e.Start(context.Background()))
	defer func() { _ = e.Stop(time.Second) }()

	stats := e.Stats()
	assert.Contains(t, stats.Budgets, types.CPU)
	assert.Equal(t, 2, stats.Pool.Workers)
	assert.Nil(t, stats.Results)
}
