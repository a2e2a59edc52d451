package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

type poolServiceFixture struct {
	service      *PoolService
	accounts     *inMemoryResourceRepo[domain.AccountAttributes]
	routes       *inMemoryResourceRepo[domain.RouteAttributes]
	fingerprints *inMemoryResourceRepo[domain.FingerprintAttributes]
}

func newPoolServiceFixture(sizes PoolSizes) *poolServiceFixture {
	f := &poolServiceFixture{
		accounts:     &inMemoryResourceRepo[domain.AccountAttributes]{},
		routes:       &inMemoryResourceRepo[domain.RouteAttributes]{},
		fingerprints: &inMemoryResourceRepo[domain.FingerprintAttributes]{},
	}
	f.service = NewPoolService(PoolRepositories{
		Accounts:     f.accounts,
		Routes:       f.routes,
		Fingerprints: f.fingerprints,
	}, DefaultPoolOptions(), sizes, newFakeClock(), ports.NewSeededRandom(11), nil)
	return f
}

func TestPoolServiceLoadFleetGeneratesAndSavesEmptyPools(t *testing.T) {
	t.Parallel()

	f := newPoolServiceFixture(PoolSizes{Accounts: 3, Routes: 5, Fingerprints: 4})
	ledger := NewActivityLedger(nil, newFakeClock(), nil, DefaultLedgerOptions())

	fleet, err := f.service.LoadFleet(context.Background(), ledger)
	require.NoError(t, err)

	assert.Equal(t, 3, fleet.Accounts.Len())
	assert.Equal(t, 5, fleet.Routes.Len())
	assert.Equal(t, 4, fleet.Fingerprints.Len())
	assert.Same(t, ledger, fleet.Ledger)
	assert.NotNil(t, fleet.Suspicion)

	assert.Len(t, f.accounts.resources, 3)
	assert.Len(t, f.routes.resources, 5)
	assert.Len(t, f.fingerprints.resources, 4)
	for _, account := range f.accounts.resources {
		assert.Equal(t, 0.9, account.SuccessRate)
		assert.NotEmpty(t, account.Attributes.Handle)
	}
}

func TestPoolServiceLoadFleetReseedsPersistedPools(t *testing.T) {
	t.Parallel()

	f := newPoolServiceFixture(PoolSizes{Accounts: 3, Routes: 3, Fingerprints: 3})
	f.accounts.resources = []domain.Resource[domain.AccountAttributes]{
		{ID: "account-007", SuccessRate: 0.42, FailureStreak: 3, Attributes: domain.AccountAttributes{Handle: "bond"}},
	}

	fleet, err := f.service.LoadFleet(context.Background(), nil)
	require.NoError(t, err)

	require.Equal(t, 1, fleet.Accounts.Len())
	account, ok := fleet.Accounts.Get("account-007")
	require.True(t, ok)
	assert.Equal(t, 0.42, account.SuccessRate)
	assert.Equal(t, 3, account.FailureStreak)
	assert.Zero(t, f.accounts.saves, "persisted pools are not rewritten on load")
	assert.Equal(t, 1, f.routes.saves)
}

func TestPoolServiceLoadFleetFailsOnSaveError(t *testing.T) {
	t.Parallel()

	f := newPoolServiceFixture(PoolSizes{Accounts: 2, Routes: 2, Fingerprints: 2})
	f.routes.saveErr = errors.New("read-only file system")

	_, err := f.service.LoadFleet(context.Background(), nil)
	require.ErrorIs(t, err, f.routes.saveErr)
}

func TestPoolServiceSeed(t *testing.T) {
	t.Parallel()

	f := newPoolServiceFixture(PoolSizes{Accounts: 2, Routes: 6, Fingerprints: 2})
	ctx := context.Background()

	seeded, err := f.service.Seed(ctx, domain.ResourceKindRoute, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 6, seeded, "zero means the configured size")
	assert.Len(t, f.routes.resources, 6)

	_, err = f.service.Seed(ctx, domain.ResourceKindRoute, 3, false)
	require.ErrorIs(t, err, domain.ErrPoolNotEmpty)
	assert.Len(t, f.routes.resources, 6)

	seeded, err = f.service.Seed(ctx, domain.ResourceKindRoute, 3, true)
	require.NoError(t, err)
	assert.Equal(t, 3, seeded)
	assert.Len(t, f.routes.resources, 3)

	_, err = f.service.Seed(ctx, domain.ResourceKindRoute, -1, true)
	require.Error(t, err)
	_, err = f.service.Seed(ctx, "relay", 1, true)
	require.Error(t, err)
}

func TestPoolServiceListMarksBelowFloor(t *testing.T) {
	t.Parallel()

	f := newPoolServiceFixture(DefaultPoolSizes())
	f.routes.resources = []domain.Resource[domain.RouteAttributes]{
		{ID: "route-001", SuccessRate: 0.8, Attributes: domain.RouteAttributes{Address: "10.0.0.1", Port: 1080, Protocol: "socks5", Class: domain.RouteClassMobile, Country: "FR"}},
		{ID: "route-002", SuccessRate: 0.2, FailureStreak: 4, Attributes: domain.RouteAttributes{Address: "10.0.0.2", Port: 8080, Protocol: "http", Class: domain.RouteClassDatacenter, Country: "US"}},
	}

	views, err := f.service.List(context.Background(), domain.ResourceKindRoute)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, domain.ResourceKindRoute, views[0].Kind)
	assert.False(t, views[0].BelowFloor)
	assert.Equal(t, "socks5 10.0.0.1:1080 mobile FR", views[0].Summary)
	assert.True(t, views[1].BelowFloor)
	assert.Equal(t, 4, views[1].FailureStreak)
}

func TestPoolServiceResetRemoveRotate(t *testing.T) {
	t.Parallel()

	f := newPoolServiceFixture(DefaultPoolSizes())
	f.accounts.resources = []domain.Resource[domain.AccountAttributes]{
		{ID: "account-001", SuccessRate: 0.1, FailureStreak: 7, LastUsedAt: testEpoch},
		{ID: "account-002", SuccessRate: 0.8, LastUsedAt: testEpoch},
	}
	ctx := context.Background()

	require.NoError(t, f.service.Reset(ctx, domain.ResourceKindAccount, "account-001"))
	assert.Equal(t, 0.9, f.accounts.resources[0].SuccessRate)
	assert.Zero(t, f.accounts.resources[0].FailureStreak)

	require.NoError(t, f.service.Rotate(ctx, domain.ResourceKindAccount))
	for _, account := range f.accounts.resources {
		assert.True(t, account.NeverUsed())
	}

	require.NoError(t, f.service.Remove(ctx, domain.ResourceKindAccount, "account-002"))
	require.Len(t, f.accounts.resources, 1)
	assert.Equal(t, domain.ResourceID("account-001"), f.accounts.resources[0].ID)

	require.ErrorIs(t, f.service.Remove(ctx, domain.ResourceKindAccount, "account-002"), domain.ErrResourceNotFound)
	require.ErrorIs(t, f.service.Reset(ctx, domain.ResourceKindFingerprint, "fingerprint-001"), domain.ErrResourceNotFound)
}

func TestPoolServiceMissingRepository(t *testing.T) {
	t.Parallel()

	service := NewPoolService(PoolRepositories{}, DefaultPoolOptions(), DefaultPoolSizes(), nil, nil, nil)

	_, err := service.List(context.Background(), domain.ResourceKindAccount)
	require.ErrorContains(t, err, "no repository")
}

func TestPoolServiceProbeScoresAndSaves(t *testing.T) {
	t.Parallel()

	f := newPoolServiceFixture(PoolSizes{Accounts: 2, Routes: 3, Fingerprints: 2})
	driver := &fakeDriver{failNext: 1}

	var seen []ProbeResult
	results, err := f.service.Probe(context.Background(), domain.ResourceKindRoute, driver, ProbeOptions{Parallelism: 1}, func(result ProbeResult) {
		seen = append(seen, result)
	})
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, 2, results.Passed())
	assert.Equal(t, results, ProbeResults(seen))
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "connection refused")
	assert.InDelta(t, 0.81, results[0].SuccessRate, 1e-9)
	assert.InDelta(t, 0.905, results[1].SuccessRate, 1e-9)

	requests := driver.Requests()
	require.Len(t, requests, 3)
	for i, request := range requests {
		assert.Equal(t, results[i].ID, request.Route.ID)
		assert.Equal(t, domain.SessionID("probe-"+string(request.Route.ID)), request.SessionID)
		assert.NotEmpty(t, request.Account.ID, "paired with the best account")
		assert.NotEmpty(t, request.Fingerprint.ID)
	}
	assert.True(t, driver.Handle(0).Closed())
	assert.True(t, driver.Handle(1).Closed())

	require.Len(t, f.routes.resources, 3)
	assert.InDelta(t, 0.81, f.routes.resources[0].SuccessRate, 1e-9)
	assert.Equal(t, 1, f.routes.resources[0].FailureStreak)
}

func TestPoolServiceProbeStopsOnCancel(t *testing.T) {
	t.Parallel()

	f := newPoolServiceFixture(PoolSizes{Accounts: 1, Routes: 1, Fingerprints: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Probe(ctx, domain.ResourceKindAccount, &fakeDriver{}, DefaultProbeOptions(), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPoolServiceProbeRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newPoolServiceFixture(DefaultPoolSizes())

	_, err := f.service.Probe(context.Background(), "relay", &fakeDriver{}, DefaultProbeOptions(), nil)
	require.Error(t, err)
	_, err = f.service.Probe(context.Background(), domain.ResourceKindRoute, nil, DefaultProbeOptions(), nil)
	require.Error(t, err)
}
