package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/gpukit/errors"
	"github.com/c360/gpukit/types"
)

func newTestTracker(t *testing.T, budget int64) *Tracker {
	t.Helper()
	tracker, err := NewTracker(Config{
		Budgets: map[types.Backend]int64{types.PrimaryGPU: budget},
	})
	require.NoError(t, err)
	return tracker
}

func TestTryAllocate_BudgetScenario(t *testing.T) {
	// Pool with budget=1000: allocate(600) succeeds, allocate(500) fails
	// leaving allocated at 600, free(600), allocate(500) succeeds.
	tracker := newTestTracker(t, 1000)

	res1, err := tracker.TryAllocate(types.PrimaryGPU, 600)
	require.NoError(t, err)
	assert.Equal(t, int64(600), tracker.Stats()[types.PrimaryGPU].AllocatedBytes)

	_, err = tracker.TryAllocate(types.PrimaryGPU, 500)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrBudgetExceeded)
	assert.Equal(t, int64(600), tracker.Stats()[types.PrimaryGPU].AllocatedBytes,
		"failed allocation must not mutate state")

	require.NoError(t, res1.Release())
	assert.Equal(t, int64(0), tracker.Stats()[types.PrimaryGPU].AllocatedBytes)

	_, err = tracker.TryAllocate(types.PrimaryGPU, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), tracker.Stats()[types.PrimaryGPU].AllocatedBytes)
}

func TestTryAllocate_PeakTracking(t *testing.T) {
	tracker := newTestTracker(t, 1000)

	res, err := tracker.TryAllocate(types.PrimaryGPU, 800)
	require.NoError(t, err)
	require.NoError(t, res.Release())

	_, err = tracker.TryAllocate(types.PrimaryGPU, 100)
	require.NoError(t, err)

	stats := tracker.Stats()[types.PrimaryGPU]
	assert.Equal(t, int64(800), stats.PeakBytes)
	assert.Equal(t, int64(100), stats.AllocatedBytes)
	assert.Equal(t, int64(2), stats.Allocations)
	assert.Equal(t, int64(1), stats.Deallocations)
}

func TestFree_OverFreeFailsFast(t *testing.T) {
	tracker := newTestTracker(t, 1000)

	_, err := tracker.TryAllocate(types.PrimaryGPU, 100)
	require.NoError(t, err)

	err = tracker.Free(types.PrimaryGPU, 200)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOverFree)
	assert.True(t, errors.IsFatal(err))

	// Accounting untouched by the failed free
	assert.Equal(t, int64(100), tracker.Stats()[types.PrimaryGPU].AllocatedBytes)
}

func TestReservation_ReleaseIdempotent(t *testing.T) {
	tracker := newTestTracker(t, 1000)

	res, err := tracker.TryAllocate(types.PrimaryGPU, 400)
	require.NoError(t, err)

	require.NoError(t, res.Release())
	require.NoError(t, res.Release())

	assert.Equal(t, int64(0), tracker.Stats()[types.PrimaryGPU].AllocatedBytes)
	assert.Equal(t, int64(1), tracker.Stats()[types.PrimaryGPU].Deallocations)
}

func TestTryAllocate_UnknownBackend(t *testing.T) {
	tracker := newTestTracker(t, 1000)

	_, err := tracker.TryAllocate(types.CPU, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBackendUnavailable)
}

func TestTryAllocate_NegativeSize(t *testing.T) {
	tracker := newTestTracker(t, 1000)

	_, err := tracker.TryAllocate(types.PrimaryGPU, -1)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestMemoryPressure(t *testing.T) {
	tracker := newTestTracker(t, 1000)

	assert.InDelta(t, 0.0, tracker.MemoryPressure(types.PrimaryGPU), 1e-9)

	_, err := tracker.TryAllocate(types.PrimaryGPU, 700)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, tracker.MemoryPressure(types.PrimaryGPU), 1e-9)

	// Unknown backend reports full pressure
	assert.InDelta(t, 1.0, tracker.MemoryPressure(types.FallbackGPU), 1e-9)
}

func TestTryAllocate_ConcurrentNeverExceedsBudget(t *testing.T) {
	const budget = 1000
	tracker := newTestTracker(t, budget)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				res, err := tracker.TryAllocate(types.PrimaryGPU, 30)
				if err != nil {
					continue
				}
				stats := tracker.Stats()[types.PrimaryGPU]
				if stats.AllocatedBytes > budget {
					t.Errorf("allocated %d exceeds budget %d", stats.AllocatedBytes, budget)
				}
				_ = res.Release()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), tracker.Stats()[types.PrimaryGPU].AllocatedBytes)
}

func TestConfigValidate(t *testing.T) {
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{Budgets: map[types.Backend]int64{types.CPU: 0}}.Validate())
	assert.Error(t, Config{Budgets: map[types.Backend]int64{types.Backend("bad"): 10}}.Validate())
	assert.NoError(t, DefaultConfig().Validate())
}
