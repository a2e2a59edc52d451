package application

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

type testAttrs struct {
	Quality int
}

func buildPool(t *testing.T, clock ports.Clock, resources ...domain.Resource[testAttrs]) *ResourcePool[testAttrs] {
	t.Helper()

	pool, err := NewPoolBuilder[testAttrs](domain.ResourceKindRoute, clock, ports.NewSeededRandom(7), nil).
		WithResources(resources).
		Build(0)
	require.NoError(t, err)
	return pool
}

func TestResourcePoolAcquireSelection(t *testing.T) {
	t.Parallel()

	older := testEpoch.Add(-2 * time.Hour)
	newer := testEpoch.Add(-1 * time.Hour)

	tests := []struct {
		name      string
		resources []domain.Resource[testAttrs]
		want      domain.ResourceID
	}{
		{
			name: "highest success rate wins",
			resources: []domain.Resource[testAttrs]{
				{ID: "a", SuccessRate: 0.7},
				{ID: "b", SuccessRate: 0.95},
				{ID: "c", SuccessRate: 0.8},
			},
			want: "b",
		},
		{
			name: "tie goes to never used",
			resources: []domain.Resource[testAttrs]{
				{ID: "a", SuccessRate: 0.9, LastUsedAt: older},
				{ID: "b", SuccessRate: 0.9},
			},
			want: "b",
		},
		{
			name: "tie goes to oldest last use",
			resources: []domain.Resource[testAttrs]{
				{ID: "a", SuccessRate: 0.9, LastUsedAt: newer},
				{ID: "b", SuccessRate: 0.9, LastUsedAt: older},
			},
			want: "b",
		},
		{
			name: "full tie goes to pool order",
			resources: []domain.Resource[testAttrs]{
				{ID: "a", SuccessRate: 0.9},
				{ID: "b", SuccessRate: 0.9},
			},
			want: "a",
		},
		{
			name: "below floor is skipped",
			resources: []domain.Resource[testAttrs]{
				{ID: "a", SuccessRate: 0.49},
				{ID: "b", SuccessRate: 0.5},
			},
			want: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clock := newFakeClock()
			pool := buildPool(t, clock, tt.resources...)

			got, err := pool.Acquire(nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.ID)
			assert.Equal(t, clock.Now(), got.LastUsedAt)
			assert.True(t, pool.IsCheckedOut(got.ID))
		})
	}
}

func TestResourcePoolAllBelowFloorIsExhausted(t *testing.T) {
	t.Parallel()

	pool := buildPool(t, newFakeClock(),
		domain.Resource[testAttrs]{ID: "a", SuccessRate: 0},
		domain.Resource[testAttrs]{ID: "b", SuccessRate: 0},
		domain.Resource[testAttrs]{ID: "c", SuccessRate: 0},
	)

	_, err := pool.Acquire(nil)
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
	assert.Contains(t, err.Error(), "route")
}

func TestResourcePoolEmptyFilterSubsetIsExhausted(t *testing.T) {
	t.Parallel()

	pool := buildPool(t, newFakeClock(),
		domain.Resource[testAttrs]{ID: "low", SuccessRate: 0.9, Attributes: testAttrs{Quality: 1}},
		domain.Resource[testAttrs]{ID: "high", SuccessRate: 0.8, Attributes: testAttrs{Quality: 9}},
	)
	highQuality := func(r domain.Resource[testAttrs]) bool { return r.Attributes.Quality >= 5 }

	got, err := pool.Acquire(highQuality)
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceID("high"), got.ID)

	_, err = pool.Acquire(highQuality)
	require.ErrorIs(t, err, domain.ErrPoolExhausted)

	got, err = pool.Acquire(nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceID("low"), got.ID)
}

func TestResourcePoolAcquireForRoleUsesRegisteredFilter(t *testing.T) {
	t.Parallel()

	pool, err := NewPoolBuilder[domain.FingerprintAttributes](domain.ResourceKindFingerprint, newFakeClock(), ports.NewSeededRandom(1), nil).
		WithRoleFilter(domain.RoleBuilder, BuilderFingerprint).
		WithRoleFilter(domain.RoleExplorer, ExplorerFingerprint).
		WithResources([]domain.Resource[domain.FingerprintAttributes]{
			{ID: "short", SuccessRate: 0.99, Attributes: domain.FingerprintAttributes{ViewDistance: 4, RenderDistance: 4, MaxFPS: 60}},
			{ID: "builder", SuccessRate: 0.9, Attributes: domain.FingerprintAttributes{ViewDistance: 10, MaxFPS: 0}},
			{ID: "explorer", SuccessRate: 0.8, Attributes: domain.FingerprintAttributes{RenderDistance: 10, EntityDistance: 90, MaxFPS: 60}},
		}).
		Build(0)
	require.NoError(t, err)

	got, err := pool.AcquireForRole(domain.RoleBuilder)
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceID("builder"), got.ID)

	got, err = pool.AcquireForRole(domain.RoleExplorer)
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceID("explorer"), got.ID)

	got, err = pool.AcquireForRole(domain.RoleMiner)
	require.NoError(t, err)
	assert.Equal(t, domain.ResourceID("short"), got.ID)

	_, err = pool.AcquireForRole(domain.RoleBuilder)
	require.ErrorIs(t, err, domain.ErrPoolExhausted)
}

func TestResourcePoolConcurrentAcquireNeverDoubleAssigns(t *testing.T) {
	t.Parallel()

	const size = 20
	const workers = 64

	pool, err := NewPoolBuilder[testAttrs](domain.ResourceKindAccount, nil, ports.NewSeededRandom(3), nil).
		WithGenerator(numbered("acc", testAttrs{})).
		Build(size)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		held      = make(map[domain.ResourceID]int)
		exhausted int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resource, err := pool.Acquire(nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrPoolExhausted)
				exhausted++
				return
			}
			held[resource.ID]++
		}()
	}
	close(start)
	wg.Wait()

	assert.Len(t, held, size)
	for id, count := range held {
		assert.Equal(t, 1, count, "resource %s handed out twice", id)
	}
	assert.Equal(t, workers-size, exhausted)
}

func TestResourcePoolAcquireReleaseStormKeepsExclusivity(t *testing.T) {
	t.Parallel()

	pool, err := NewPoolBuilder[testAttrs](domain.ResourceKindRoute, nil, ports.NewSeededRandom(5), nil).
		WithOptions(PoolOptions{Alpha: 0.05, Beta: 0.1, Floor: 0, ResetRate: 0.9}).
		WithGenerator(numbered("route", testAttrs{})).
		Build(5)
	require.NoError(t, err)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		owners = make(map[domain.ResourceID]bool)
	)
	for worker := 0; worker < 16; worker++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				resource, err := pool.Acquire(nil)
				if err != nil {
					continue
				}

				mu.Lock()
				assert.False(t, owners[resource.ID], "resource %s held twice", resource.ID)
				owners[resource.ID] = true
				mu.Unlock()

				mu.Lock()
				owners[resource.ID] = false
				mu.Unlock()

				outcome := domain.OutcomeSuccess
				if rng.Intn(2) == 0 {
					outcome = domain.OutcomeFailure
				}
				assert.NoError(t, pool.Release(resource.ID, outcome))
			}
		}(int64(worker))
	}
	wg.Wait()

	assert.Equal(t, 0, pool.Stats().CheckedOut)
}

func TestResourcePoolReleaseAdjustsRate(t *testing.T) {
	t.Parallel()

	pool := buildPool(t, newFakeClock(), domain.Resource[testAttrs]{ID: "a", SuccessRate: 0.8, FailureStreak: 2})

	_, err := pool.Acquire(nil)
	require.NoError(t, err)
	require.NoError(t, pool.Release("a", domain.OutcomeSuccess))

	got, ok := pool.Get("a")
	require.True(t, ok)
	assert.InDelta(t, 0.8+0.05*0.2, got.SuccessRate, 1e-9)
	assert.Zero(t, got.FailureStreak)

	_, err = pool.Acquire(nil)
	require.NoError(t, err)
	require.NoError(t, pool.Release("a", domain.OutcomeFailure))

	got, _ = pool.Get("a")
	assert.InDelta(t, 0.81*0.9, got.SuccessRate, 1e-9)
	assert.Equal(t, 1, got.FailureStreak)
}

func TestResourcePoolRateStaysWithinBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    PoolOptions
		start   float64
		outcome domain.Outcome
		want    float64
	}{
		{name: "full success from one", opts: PoolOptions{Alpha: 1, Beta: 1}, start: 1, outcome: domain.OutcomeSuccess, want: 1},
		{name: "full failure from zero", opts: PoolOptions{Alpha: 1, Beta: 1}, start: 0, outcome: domain.OutcomeFailure, want: 0},
		{name: "full failure from one", opts: PoolOptions{Alpha: 1, Beta: 1}, start: 1, outcome: domain.OutcomeFailure, want: 0},
		{name: "full success from zero", opts: PoolOptions{Alpha: 1, Beta: 1}, start: 0, outcome: domain.OutcomeSuccess, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			pool, err := NewPoolBuilder[testAttrs](domain.ResourceKindAccount, newFakeClock(), ports.NewSeededRandom(1), nil).
				WithOptions(tt.opts).
				WithResources([]domain.Resource[testAttrs]{{ID: "a", SuccessRate: tt.start}}).
				Build(0)
			require.NoError(t, err)

			_, err = pool.Acquire(nil)
			require.NoError(t, err)
			require.NoError(t, pool.Release("a", tt.outcome))

			got, _ := pool.Get("a")
			assert.Equal(t, tt.want, got.SuccessRate)
		})
	}

	t.Run("random sequences", func(t *testing.T) {
		t.Parallel()

		pool, err := NewPoolBuilder[testAttrs](domain.ResourceKindAccount, newFakeClock(), ports.NewSeededRandom(1), nil).
			WithOptions(PoolOptions{Alpha: 0.3, Beta: 0.7, Floor: 0}).
			WithResources([]domain.Resource[testAttrs]{{ID: "a", SuccessRate: 0.5}}).
			Build(0)
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(99))
		for i := 0; i < 2000; i++ {
			_, err := pool.Acquire(nil)
			require.NoError(t, err)
			outcome := domain.OutcomeSuccess
			if rng.Intn(3) == 0 {
				outcome = domain.OutcomeFailure
			}
			require.NoError(t, pool.Release("a", outcome))

			got, _ := pool.Get("a")
			require.GreaterOrEqual(t, got.SuccessRate, 0.0)
			require.LessOrEqual(t, got.SuccessRate, 1.0)
		}
	})
}

func TestResourcePoolReleaseRequiresCheckout(t *testing.T) {
	t.Parallel()

	pool := buildPool(t, newFakeClock(), domain.Resource[testAttrs]{ID: "a", SuccessRate: 0.9})

	require.ErrorIs(t, pool.Release("a", domain.OutcomeSuccess), domain.ErrNotCheckedOut)
	require.ErrorIs(t, pool.Release("missing", domain.OutcomeSuccess), domain.ErrResourceNotFound)

	_, err := pool.Acquire(nil)
	require.NoError(t, err)
	require.NoError(t, pool.Release("a", domain.OutcomeFailure))
	require.ErrorIs(t, pool.Release("a", domain.OutcomeFailure), domain.ErrNotCheckedOut)

	got, _ := pool.Get("a")
	assert.InDelta(t, 0.81, got.SuccessRate, 1e-9)
	assert.Equal(t, 1, got.FailureStreak)
}

func TestResourcePoolReturnDoesNotScore(t *testing.T) {
	t.Parallel()

	pool := buildPool(t, newFakeClock(), domain.Resource[testAttrs]{ID: "a", SuccessRate: 0.9})

	_, err := pool.Acquire(nil)
	require.NoError(t, err)
	require.NoError(t, pool.Return("a"))

	got, _ := pool.Get("a")
	assert.Equal(t, 0.9, got.SuccessRate)
	assert.False(t, pool.IsCheckedOut("a"))
}

func TestResourcePoolRotate(t *testing.T) {
	t.Parallel()

	resources := make([]domain.Resource[testAttrs], 0, 8)
	for _, id := range []domain.ResourceID{"a", "b", "c", "d", "e", "f", "g", "h"} {
		resources = append(resources, domain.Resource[testAttrs]{ID: id, SuccessRate: 0.9, LastUsedAt: testEpoch.Add(-time.Hour)})
	}
	clock := newFakeClock()
	pool := buildPool(t, clock, resources...)

	assert.False(t, pool.Rotate(), "untouched pool must not rotate")

	_, err := pool.Acquire(nil)
	require.NoError(t, err)
	require.True(t, pool.Rotate())

	snapshot := pool.Snapshot()
	require.Len(t, snapshot, 8)
	for _, resource := range snapshot {
		assert.True(t, resource.NeverUsed())
		assert.Equal(t, 0.9, resource.SuccessRate)
	}
	assert.Equal(t, clock.Now(), pool.Stats().LastRotation)

	before := pool.Snapshot()
	assert.False(t, pool.Rotate(), "second rotation is a no-op")
	assert.Equal(t, before, pool.Snapshot())
}

func TestResourcePoolReshuffleIgnoresDirtyFlag(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := buildPool(t, clock,
		domain.Resource[testAttrs]{ID: "a", SuccessRate: 0.9, LastUsedAt: testEpoch.Add(-time.Hour)},
		domain.Resource[testAttrs]{ID: "b", SuccessRate: 0.8, LastUsedAt: testEpoch.Add(-time.Minute)},
	)

	pool.Reshuffle()

	for _, resource := range pool.Snapshot() {
		assert.True(t, resource.NeverUsed())
	}
	assert.Equal(t, clock.Now(), pool.Stats().LastRotation)
	assert.False(t, pool.Rotate(), "a reshuffle leaves the pool clean")
}

func TestResourcePoolRecord(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	pool := buildPool(t, clock,
		domain.Resource[testAttrs]{ID: "a", SuccessRate: 0.5},
		domain.Resource[testAttrs]{ID: "b", SuccessRate: 0.5},
	)

	require.NoError(t, pool.Record("a", domain.OutcomeSuccess))
	got, _ := pool.Get("a")
	assert.InDelta(t, 0.525, got.SuccessRate, 1e-9)
	assert.Equal(t, clock.Now(), got.LastUsedAt)

	require.NoError(t, pool.Record("a", domain.OutcomeFailure))
	got, _ = pool.Get("a")
	assert.InDelta(t, 0.4725, got.SuccessRate, 1e-9)
	assert.Equal(t, 1, got.FailureStreak)

	require.ErrorIs(t, pool.Record("zzz", domain.OutcomeSuccess), domain.ErrResourceNotFound)

	acquired, err := pool.Acquire(nil)
	require.NoError(t, err)
	require.ErrorIs(t, pool.Record(acquired.ID, domain.OutcomeSuccess), domain.ErrResourceInUse)
	assert.True(t, pool.Rotate(), "recording marks the pool used")
}

func TestResourcePoolAdministration(t *testing.T) {
	t.Parallel()

	pool := buildPool(t, newFakeClock(), domain.Resource[testAttrs]{ID: "a", SuccessRate: 0.1, FailureStreak: 6})

	require.NoError(t, pool.Add(domain.Resource[testAttrs]{ID: "b", SuccessRate: 0.2}))
	require.ErrorIs(t, pool.Add(domain.Resource[testAttrs]{ID: "b"}), domain.ErrDuplicateResource)
	require.Error(t, pool.Add(domain.Resource[testAttrs]{}))

	added, ok := pool.Get("b")
	require.True(t, ok)
	assert.Equal(t, 0.9, added.SuccessRate)

	_, err := pool.Acquire(nil)
	require.NoError(t, err)
	require.ErrorIs(t, pool.Remove("b"), domain.ErrResourceInUse)
	require.ErrorIs(t, pool.Remove("zzz"), domain.ErrResourceNotFound)

	require.NoError(t, pool.Reset("a"))
	reset, _ := pool.Get("a")
	assert.Equal(t, 0.9, reset.SuccessRate)
	assert.Zero(t, reset.FailureStreak)

	require.NoError(t, pool.Release("b", domain.OutcomeSuccess))
	require.NoError(t, pool.Remove("b"))
	assert.Equal(t, 1, pool.Len())
	require.ErrorIs(t, pool.Reset("b"), domain.ErrResourceNotFound)
}

func TestResourcePoolStats(t *testing.T) {
	t.Parallel()

	pool := buildPool(t, newFakeClock(),
		domain.Resource[testAttrs]{ID: "a", SuccessRate: 0.9},
		domain.Resource[testAttrs]{ID: "b", SuccessRate: 0.7},
		domain.Resource[testAttrs]{ID: "c", SuccessRate: 0.2},
	)
	_, err := pool.Acquire(nil)
	require.NoError(t, err)

	stats := pool.Stats()
	assert.Equal(t, domain.ResourceKindRoute, stats.Kind)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.CheckedOut)
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 1, stats.BelowFloor)
	assert.InDelta(t, 0.6, stats.AverageSuccessRate, 1e-9)
}

func TestPoolBuilder(t *testing.T) {
	t.Parallel()

	t.Run("generates when nothing persisted", func(t *testing.T) {
		t.Parallel()

		pool, err := NewPoolBuilder[testAttrs](domain.ResourceKindAccount, nil, nil, nil).
			WithGenerator(numbered("acc", testAttrs{Quality: 3})).
			Build(4)
		require.NoError(t, err)

		snapshot := pool.Snapshot()
		require.Len(t, snapshot, 4)
		assert.Equal(t, domain.ResourceID("acc-0"), snapshot[0].ID)
		assert.Equal(t, 0.9, snapshot[0].SuccessRate)
		assert.Equal(t, 3, snapshot[0].Attributes.Quality)
	})

	t.Run("persisted resources win over generator", func(t *testing.T) {
		t.Parallel()

		pool, err := NewPoolBuilder[testAttrs](domain.ResourceKindAccount, nil, nil, nil).
			WithGenerator(numbered("acc", testAttrs{})).
			WithResources([]domain.Resource[testAttrs]{{ID: "kept", SuccessRate: 1.5, FailureStreak: 2}}).
			Build(10)
		require.NoError(t, err)

		snapshot := pool.Snapshot()
		require.Len(t, snapshot, 1)
		assert.Equal(t, 1.0, snapshot[0].SuccessRate)
		assert.Equal(t, 2, snapshot[0].FailureStreak)
	})

	t.Run("duplicate persisted ids", func(t *testing.T) {
		t.Parallel()

		_, err := NewPoolBuilder[testAttrs](domain.ResourceKindAccount, nil, nil, nil).
			WithResources([]domain.Resource[testAttrs]{{ID: "x"}, {ID: "x"}}).
			Build(0)
		require.ErrorIs(t, err, domain.ErrDuplicateResource)
	})

	t.Run("no generator", func(t *testing.T) {
		t.Parallel()

		_, err := NewPoolBuilder[testAttrs](domain.ResourceKindAccount, nil, nil, nil).Build(3)
		require.Error(t, err)
	})
}
