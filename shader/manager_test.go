package shader

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gpukit/budget"
	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/types"
)

// fakePlatform is a controllable Platform for exercising the manager
// without a real compiler.
type fakePlatform struct {
	backend       types.Backend
	compiles      int64
	compileErr    error
	compileGate   chan struct{} // when set, Compile blocks until closed
	dispatchDelay time.Duration
}

func (f *fakePlatform) Backend() types.Backend { return f.backend }

func (f *fakePlatform) Compile(ctx context.Context, bundle Bundle) (Handle, error) {
	atomic.AddInt64(&f.compiles, 1)
	if f.compileGate != nil {
		select {
		case <-f.compileGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.compileErr != nil {
		return nil, f.compileErr
	}
	return "handle-" + bundle.Name, nil
}

func (f *fakePlatform) Dispatch(ctx context.Context, _ Handle, input []float32, _ int) ([]float32, error) {
	if f.dispatchDelay > 0 {
		select {
		case <-time.After(f.dispatchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	out := make([]float32, len(input))
	copy(out, input)
	return out, nil
}

func (f *fakePlatform) Release(Handle) error { return nil }

func newTestManager(t *testing.T, platform Platform, opts ...Option) (*Manager, *budget.Tracker) {
	t.Helper()
	tracker, err := budget.NewTracker(budget.Config{
		Budgets: map[types.Backend]int64{platform.Backend(): 1000},
	})
	require.NoError(t, err)
	m, err := NewManager(DefaultConfig(), tracker, []Platform{platform}, opts...)
	require.NoError(t, err)
	return m, tracker
}

func testBundle(backend types.Backend) Bundle {
	return Bundle{
		Name:       "embed-normalize",
		Backend:    backend,
		EntryPoint: "normalize",
		SourceCode: "@compute @workgroup_size(64) fn normalize() {}",
	}
}

func TestCompileCachesPipeline(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, _ := newTestManager(t, platform)
	ctx := context.Background()
	bundle := testBundle(types.CPU)

	first, err := m.Compile(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, StateCompiled, m.State(bundle.Name, types.CPU))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, bundle.SourceHash(), first.SourceHash)

	second, err := m.Compile(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(1), atomic.LoadInt64(&platform.compiles))
}

func TestSingleFlightCompilation(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU, compileGate: make(chan struct{})}
	m, _ := newTestManager(t, platform)
	ctx := context.Background()
	bundle := testBundle(types.CPU)

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*CompiledPipeline, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Compile(ctx, bundle)
		}(i)
	}

	// Let every caller reach the cache before the compile settles.
	time.Sleep(50 * time.Millisecond)
	close(platform.compileGate)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&platform.compiles),
		"concurrent callers must share one compiler invocation")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
	}
}

func TestCompileFailureIsSticky(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU, compileErr: stderrors.New("expected ';' at line 3")}
	m, _ := newTestManager(t, platform)
	ctx := context.Background()
	bundle := testBundle(types.CPU)

	_, err := m.Compile(ctx, bundle)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCompilationFailed)
	assert.Contains(t, err.Error(), "expected ';' at line 3")
	assert.Equal(t, StateCompileFailed, m.State(bundle.Name, types.CPU))

	// The failure is returned without re-invoking the compiler.
	_, err = m.Compile(ctx, bundle)
	assert.ErrorIs(t, err, errors.ErrCompilationFailed)
	assert.Equal(t, int64(1), atomic.LoadInt64(&platform.compiles))

	// Invalidate clears the slot; the next request compiles again.
	require.NoError(t, m.Invalidate(bundle.Name, types.CPU))
	platform.compileErr = nil
	_, err = m.Compile(ctx, bundle)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&platform.compiles))
}

func TestExecuteRequiresCompiledPipeline(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, _ := newTestManager(t, platform)
	ctx := context.Background()

	_, err := m.ExecuteShader(ctx, "absent", types.CPU, []float32{1, 2}, 2, 0)
	assert.ErrorIs(t, err, errors.ErrPipelineNotFound)

	platform.compileErr = stderrors.New("bad source")
	bundle := testBundle(types.CPU)
	_, _ = m.Compile(ctx, bundle)

	_, err = m.ExecuteShader(ctx, bundle.Name, types.CPU, []float32{1, 2}, 2, 0)
	assert.ErrorIs(t, err, errors.ErrCompilationFailed)
}

func TestExecuteShader(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, _ := newTestManager(t, platform)
	ctx := context.Background()
	bundle := testBundle(types.CPU)

	_, err := m.Compile(ctx, bundle)
	require.NoError(t, err)

	input := []float32{1, 2, 3, 4}
	output, err := m.ExecuteShader(ctx, bundle.Name, types.CPU, input, 2, time.Second)
	require.NoError(t, err)
	assert.Equal(t, input, output)
}

func TestExecuteShaderTimeout(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU, dispatchDelay: 500 * time.Millisecond}
	m, _ := newTestManager(t, platform)
	ctx := context.Background()
	bundle := testBundle(types.CPU)

	_, err := m.Compile(ctx, bundle)
	require.NoError(t, err)

	_, err = m.ExecuteShader(ctx, bundle.Name, types.CPU, []float32{1, 2}, 2, 20*time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrExecutionTimeout)
	assert.True(t, errors.IsTransient(err))
}

func TestExecuteShaderDimensionMismatch(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, _ := newTestManager(t, platform)

	_, err := m.ExecuteShader(context.Background(), "x", types.CPU, []float32{1, 2, 3}, 2, 0)
	assert.ErrorIs(t, err, errors.ErrDimensionMismatch)
}

func TestUnknownBackend(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, _ := newTestManager(t, platform)

	bundle := testBundle(types.PrimaryGPU)
	_, err := m.Compile(context.Background(), bundle)
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
}

func TestCreateBufferWithinBudget(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, tracker := newTestManager(t, platform)
	ctx := context.Background()

	res, err := m.CreateBuffer(ctx, types.CPU, 600)
	require.NoError(t, err)
	assert.Equal(t, KindBuffer, res.Kind)
	assert.Equal(t, int64(600), tracker.Stats()[types.CPU].AllocatedBytes)
}

func TestCreateBufferGCRetry(t *testing.T) {
	now := time.Now()
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		now = now.Add(d)
		clockMu.Unlock()
	}

	platform := &fakePlatform{backend: types.CPU}
	m, tracker := newTestManager(t, platform, WithClock(clock))
	ctx := context.Background()

	// Fill the budget with a buffer that will go stale.
	_, err := m.CreateBuffer(ctx, types.CPU, 600)
	require.NoError(t, err)

	// Before the buffer ages out, a large allocation fails even after GC.
	_, err = m.CreateBuffer(ctx, types.CPU, 500)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBudgetExceeded)

	// Past the age threshold GC reclaims it and the retry succeeds.
	advance(61 * time.Second)
	res, err := m.CreateBuffer(ctx, types.CPU, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), tracker.Stats()[types.CPU].AllocatedBytes)
	assert.NotEmpty(t, res.ID)
}

func TestDestroyBufferFreesBudget(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, tracker := newTestManager(t, platform)
	ctx := context.Background()

	res, err := m.CreateBuffer(ctx, types.CPU, 900)
	require.NoError(t, err)

	require.NoError(t, m.DestroyBuffer(res.ID))
	assert.Equal(t, int64(0), tracker.Stats()[types.CPU].AllocatedBytes)

	// Budget is free again.
	_, err = m.CreateBuffer(ctx, types.CPU, 900)
	require.NoError(t, err)

	// Destroying an unknown id is a caller bug.
	assert.Error(t, m.DestroyBuffer("buffer-nope"))
}

func TestCreateBindGroupTracked(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, tracker := newTestManager(t, platform)
	ctx := context.Background()

	res, err := m.CreateBindGroup(ctx, types.CPU, 200)
	require.NoError(t, err)
	assert.Equal(t, KindBindGroup, res.Kind)
	assert.Equal(t, int64(200), tracker.Stats()[types.CPU].AllocatedBytes)
	assert.Equal(t, 1, m.GetStats().Resources[KindBindGroup])

	require.NoError(t, m.DestroyBindGroup(res.ID))
	assert.Equal(t, int64(0), tracker.Stats()[types.CPU].AllocatedBytes)
}

func TestTouchKeepsResourceAlive(t *testing.T) {
	now := time.Now()
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}

	platform := &fakePlatform{backend: types.CPU}
	m, _ := newTestManager(t, platform, WithClock(clock))

	res, err := m.CreateBuffer(context.Background(), types.CPU, 100)
	require.NoError(t, err)

	clockMu.Lock()
	now = now.Add(59 * time.Second)
	clockMu.Unlock()
	require.True(t, m.TouchResource(res.ID))

	clockMu.Lock()
	now = now.Add(30 * time.Second)
	clockMu.Unlock()

	// 89s since creation but only 30s since the touch.
	assert.Equal(t, 0, m.GarbageCollect(types.CPU))
}

func TestGetStats(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, _ := newTestManager(t, platform)
	ctx := context.Background()

	_, err := m.Compile(ctx, testBundle(types.CPU))
	require.NoError(t, err)
	_, err = m.CreateTexture(ctx, types.CPU, 128)
	require.NoError(t, err)

	stats := m.GetStats()
	assert.Equal(t, "compiled", stats.Pipelines["embed-normalize/cpu"])
	assert.Equal(t, 1, stats.Resources[KindTexture])
	assert.Equal(t, int64(128), stats.Pools[types.CPU].AllocatedBytes)
}

func TestShutdownReleasesEverything(t *testing.T) {
	platform := &fakePlatform{backend: types.CPU}
	m, tracker := newTestManager(t, platform)
	ctx := context.Background()

	_, err := m.Compile(ctx, testBundle(types.CPU))
	require.NoError(t, err)
	_, err = m.CreateBuffer(ctx, types.CPU, 500)
	require.NoError(t, err)

	m.Shutdown()
	assert.Equal(t, int64(0), tracker.Stats()[types.CPU].AllocatedBytes)
	assert.Equal(t, StateUncompiled, m.State("embed-normalize", types.CPU))
}
