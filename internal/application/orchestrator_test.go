package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
	"github.com/bnema/rotor/internal/ports/mocks"
)

type orchestratorFixture struct {
	orchestrator *Orchestrator
	lifecycle    *SessionLifecycle
	fleet        *Fleet
	clock        *fakeClock
	driver       *fakeDriver
	accounts     *inMemoryResourceRepo[domain.AccountAttributes]
	routes       *inMemoryResourceRepo[domain.RouteAttributes]
	fingerprints *inMemoryResourceRepo[domain.FingerprintAttributes]
}

func newOrchestratorFixture(t *testing.T, poolSize int, executor ports.ActionExecutor, opts OrchestratorOptions) *orchestratorFixture {
	t.Helper()

	f := &orchestratorFixture{
		clock:        newFakeClock(),
		driver:       &fakeDriver{},
		accounts:     &inMemoryResourceRepo[domain.AccountAttributes]{},
		routes:       &inMemoryResourceRepo[domain.RouteAttributes]{},
		fingerprints: &inMemoryResourceRepo[domain.FingerprintAttributes]{},
	}
	f.fleet = newTestFleet(t, f.clock, poolSize)
	f.lifecycle = NewSessionLifecycle(f.fleet, f.driver, nil, quietLifecycleOptions())
	dispatcher := NewCountermeasureDispatcher(f.fleet, f.lifecycle, DefaultDispatchOptions())
	monitor := NewSuspicionMonitor(f.fleet, dispatcher, DefaultMonitorOptions())
	f.orchestrator = NewOrchestrator(f.fleet, f.lifecycle, monitor, dispatcher, executor, PoolRepositories{
		Accounts:     f.accounts,
		Routes:       f.routes,
		Fingerprints: f.fingerprints,
	}, opts)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.lifecycle.Shutdown(ctx)
	})
	return f
}

func testOrchestratorOptions(sessions int) OrchestratorOptions {
	opts := DefaultOrchestratorOptions()
	opts.Sessions = sessions
	opts.OpenRate = 0
	return opts
}

func TestOrchestratorReconcileReachesTarget(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, 5, nil, testOrchestratorOptions(4))

	opened := f.orchestrator.Reconcile(context.Background())
	assert.Equal(t, 4, opened)

	sessions := f.lifecycle.List()
	require.Len(t, sessions, 4)
	roles := make([]domain.Role, 0, len(sessions))
	for _, request := range f.driver.Requests() {
		roles = append(roles, request.Role)
	}
	assert.Equal(t, []domain.Role{domain.RoleBuilder, domain.RoleExplorer, domain.RoleMiner, domain.RoleBuilder}, roles)

	assert.Zero(t, f.orchestrator.Reconcile(context.Background()), "already at target")
	assert.Len(t, f.driver.Requests(), 4)
}

func TestOrchestratorReconcileCountsHandshakeFailures(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, 5, nil, testOrchestratorOptions(2))
	f.driver.failNext = 1

	assert.Equal(t, 2, f.orchestrator.Reconcile(context.Background()))
	assert.Len(t, f.lifecycle.List(), 2, "a reconnecting session still counts")
	assert.True(t, f.orchestrator.BackoffUntil().IsZero())
}

func TestOrchestratorBacksOffOnPoolExhaustion(t *testing.T) {
	t.Parallel()

	opts := testOrchestratorOptions(4)
	opts.ExhaustedBase = 5 * time.Second
	opts.ExhaustedCap = 8 * time.Second
	f := newOrchestratorFixture(t, 2, nil, opts)
	ctx := context.Background()

	assert.Equal(t, 2, f.orchestrator.Reconcile(ctx))
	assert.Equal(t, testEpoch.Add(5*time.Second), f.orchestrator.BackoffUntil())
	assert.Equal(t, int64(1), f.lifecycle.PoolExhaustions())

	assert.Zero(t, f.orchestrator.Reconcile(ctx), "backing off")
	assert.Equal(t, int64(1), f.lifecycle.PoolExhaustions())

	f.clock.Advance(5 * time.Second)
	assert.Zero(t, f.orchestrator.Reconcile(ctx))
	assert.Equal(t, f.clock.Now().Add(8*time.Second), f.orchestrator.BackoffUntil(), "doubled and capped")

	sessions := f.lifecycle.List()
	require.NoError(t, f.lifecycle.Close(ctx, sessions[0].ID))

	f.clock.Advance(8 * time.Second)
	assert.Equal(t, 1, f.orchestrator.Reconcile(ctx))
	assert.Equal(t, f.clock.Now().Add(5*time.Second), f.orchestrator.BackoffUntil(), "a successful open resets the streak")
	assert.Len(t, f.lifecycle.List(), 2)

	status := f.orchestrator.Status()
	assert.Equal(t, f.orchestrator.BackoffUntil(), status.FleetBackoffUntil)
	assert.Equal(t, int64(3), status.PoolExhaustions)
}

func TestOrchestratorPerform(t *testing.T) {
	t.Parallel()

	executor := mocks.NewMockActionExecutor(t)
	f := newOrchestratorFixture(t, 2, executor, testOrchestratorOptions(1))
	ctx := context.Background()
	require.Equal(t, 1, f.orchestrator.Reconcile(ctx))
	session := f.lifecycle.List()[0]

	attrs := map[string]float64{domain.AttrReactionTimeMs: 250}
	executor.EXPECT().Execute(mockAnyContext(), f.driver.Handle(0), domain.EventKind("mine"), attrs).Return(nil).Once()

	risk, err := f.orchestrator.Perform(ctx, session.ID, "mine", attrs)
	require.NoError(t, err)
	assert.Zero(t, risk)
	assert.Equal(t, 1, f.fleet.Ledger.Counts()["mine"])

	placeErr := errors.New("out of blocks")
	executor.EXPECT().Execute(mockAnyContext(), f.driver.Handle(0), domain.EventKind("place"), map[string]float64(nil)).Return(placeErr).Once()

	_, err = f.orchestrator.Perform(ctx, session.ID, "place", nil)
	require.ErrorIs(t, err, placeErr)

	_, err = f.orchestrator.Perform(ctx, "missing", "mine", nil)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, f.lifecycle.Close(ctx, session.ID))
	_, err = f.orchestrator.Perform(ctx, session.ID, "mine", nil)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestOrchestratorPerformRaisesSuspicion(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, 2, nil, testOrchestratorOptions(1))
	ctx := context.Background()
	require.Equal(t, 1, f.orchestrator.Reconcile(ctx))
	session := f.lifecycle.List()[0]

	risk, err := f.orchestrator.Perform(ctx, session.ID, "attack", map[string]float64{domain.AttrPrecision: 0.99})
	require.NoError(t, err)
	assert.Equal(t, precisionRiskPoints, risk)
	assert.Equal(t, precisionRiskPoints, f.orchestrator.Status().SuspicionLevel)

	f.orchestrator.ResetSuspicion()
	assert.Zero(t, f.orchestrator.Status().SuspicionLevel)
}

func TestOrchestratorStatus(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, 3, nil, testOrchestratorOptions(2))
	require.Equal(t, 2, f.orchestrator.Reconcile(context.Background()))

	status := f.orchestrator.Status()
	assert.Equal(t, testEpoch, status.TakenAt)
	assert.Equal(t, 2, status.TargetSessions)
	assert.Equal(t, map[string]int{"active": 2}, status.SessionsByState)
	assert.Zero(t, status.Degraded())
	require.Len(t, status.Sessions, 2)
	assert.Equal(t, "active", status.Sessions[0].State)
	assert.NotEmpty(t, status.Sessions[0].Account)
	assert.Len(t, status.Countermeasures, 10)
	assert.Equal(t, 2, status.Ledger.Size)

	require.Len(t, status.Pools, 3)
	assert.Equal(t, domain.ResourceKindAccount, status.Pools[0].Kind)
	assert.Equal(t, 2, status.Pools[0].CheckedOut)
	assert.Equal(t, 1, status.Pools[0].Available)
	assert.Equal(t, domain.ResourceKindRoute, status.Pools[1].Kind)
	assert.Equal(t, map[string]int{string(domain.RouteClassResidential): 3}, status.Pools[1].ByClass)
	assert.Equal(t, map[string]int{"DE": 3}, status.Pools[1].ByCountry)
	assert.Equal(t, domain.ResourceKindFingerprint, status.Pools[2].Kind)
}

func TestOrchestratorSavePools(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, 3, nil, testOrchestratorOptions(1))

	require.NoError(t, f.orchestrator.SavePools(context.Background()))
	assert.Len(t, f.accounts.resources, 3)
	assert.Len(t, f.routes.resources, 3)
	assert.Len(t, f.fingerprints.resources, 3)

	f.routes.saveErr = errors.New("permission denied")
	err := f.orchestrator.SavePools(context.Background())
	require.ErrorIs(t, err, domain.ErrPersistenceFailure)
	require.ErrorIs(t, err, f.routes.saveErr)
	assert.Equal(t, 2, f.accounts.saves, "other pools are still saved")
}

func TestOrchestratorRun(t *testing.T) {
	t.Parallel()

	opts := testOrchestratorOptions(2)
	opts.Tick = 10 * time.Millisecond
	f := newOrchestratorFixture(t, 4, nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orchestrator.Run(ctx) }()

	eventually(t, func() bool { return len(f.lifecycle.List()) == 2 })

	closed := f.lifecycle.List()[0].ID
	require.NoError(t, f.lifecycle.Close(context.Background(), closed))

	// the terminated session is forgotten and replaced on a later tick
	eventually(t, func() bool {
		_, err := f.lifecycle.Get(closed)
		return errors.Is(err, domain.ErrSessionNotFound)
	})
	eventually(t, func() bool {
		f.clock.Advance(opts.Tick)
		return len(f.lifecycle.List()) == 2
	})
	assert.Len(t, f.driver.Requests(), 3)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	assert.Empty(t, f.lifecycle.List())
	assert.Equal(t, int64(3), f.lifecycle.TerminatedTotal())
	assert.Equal(t, 1, f.accounts.saves, "pools are saved on shutdown")
	assert.Len(t, f.accounts.resources, 4)
	assert.Zero(t, f.fleet.Accounts.Stats().CheckedOut)
}

func TestOrchestratorPeriodicSaveFollowsFleetClock(t *testing.T) {
	t.Parallel()

	opts := testOrchestratorOptions(1)
	opts.Tick = time.Hour
	opts.SnapshotInterval = time.Minute
	f := newOrchestratorFixture(t, 2, nil, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.orchestrator.Run(ctx) }()

	eventually(t, func() bool { return len(f.lifecycle.List()) == 1 })
	assert.Zero(t, f.accounts.Saves(), "no save before the interval elapses")

	eventually(t, func() bool {
		f.clock.Advance(opts.SnapshotInterval)
		return f.accounts.Saves() >= 1
	})

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}
}

func TestOrchestratorReconcileAfterShutdownIsQuiet(t *testing.T) {
	t.Parallel()

	f := newOrchestratorFixture(t, 3, nil, testOrchestratorOptions(2))
	core, logs := observer.New(zapcore.DebugLevel)
	f.orchestrator.logger = zap.New(core)

	require.NoError(t, f.lifecycle.Shutdown(context.Background()))

	assert.Zero(t, f.orchestrator.Reconcile(context.Background()))
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Equal(t, 1, logs.FilterMessage("open interrupted").Len())
}
