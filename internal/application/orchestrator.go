package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

const shutdownTimeout = 15 * time.Second

type OrchestratorOptions struct {
	Sessions         int
	Roles            []domain.Role
	Tick             time.Duration
	OpenRate         float64
	OpenBurst        int
	RotationInterval time.Duration
	SnapshotInterval time.Duration
	ExhaustedBase    time.Duration
	ExhaustedCap     time.Duration
}

func DefaultOrchestratorOptions() OrchestratorOptions {
	return OrchestratorOptions{
		Sessions:         6,
		Roles:            []domain.Role{domain.RoleBuilder, domain.RoleExplorer, domain.RoleMiner},
		Tick:             5 * time.Second,
		OpenRate:         0.1,
		OpenBurst:        1,
		RotationInterval: 30 * time.Minute,
		SnapshotInterval: 5 * time.Minute,
		ExhaustedBase:    5 * time.Second,
		ExhaustedCap:     5 * time.Minute,
	}
}

// PoolRepositories persist the three pools. Nil members are skipped.
type PoolRepositories struct {
	Accounts     ports.ResourceRepository[domain.AccountAttributes]
	Routes       ports.ResourceRepository[domain.RouteAttributes]
	Fingerprints ports.ResourceRepository[domain.FingerprintAttributes]
}

// Orchestrator keeps the fleet at its target size and owns every background
// task: reconciliation, pool rotation, pool snapshots, the ledger flush
// worker, the monitor loop and the termination consumer.
type Orchestrator struct {
	fleet      *Fleet
	lifecycle  *SessionLifecycle
	monitor    *SuspicionMonitor
	dispatcher *CountermeasureDispatcher
	executor   ports.ActionExecutor
	repos      PoolRepositories
	opts       OrchestratorOptions
	limiter    *rate.Limiter
	logger     *zap.Logger

	mu              sync.Mutex
	inflight        int
	nextRole        int
	exhaustedStreak int
	backoffUntil    time.Time
}

// NewOrchestrator ties the components together. executor may be nil, in which
// case Perform only records actions.
func NewOrchestrator(fleet *Fleet, lifecycle *SessionLifecycle, monitor *SuspicionMonitor, dispatcher *CountermeasureDispatcher, executor ports.ActionExecutor, repos PoolRepositories, opts OrchestratorOptions) *Orchestrator {
	fleet.withDefaults()
	defaults := DefaultOrchestratorOptions()
	if len(opts.Roles) == 0 {
		opts.Roles = defaults.Roles
	}
	if opts.Tick <= 0 {
		opts.Tick = defaults.Tick
	}
	if opts.OpenBurst <= 0 {
		opts.OpenBurst = 1
	}
	if opts.ExhaustedBase <= 0 {
		opts.ExhaustedBase = defaults.ExhaustedBase
	}
	if opts.ExhaustedCap < opts.ExhaustedBase {
		opts.ExhaustedCap = opts.ExhaustedBase
	}

	limit := rate.Inf
	if opts.OpenRate > 0 {
		limit = rate.Limit(opts.OpenRate)
	}

	fleet.Ledger.SetLevelSource(fleet.Suspicion.Level)

	return &Orchestrator{
		fleet:      fleet,
		lifecycle:  lifecycle,
		monitor:    monitor,
		dispatcher: dispatcher,
		executor:   executor,
		repos:      repos,
		opts:       opts,
		limiter:    rate.NewLimiter(limit, opts.OpenBurst),
		logger:     fleet.Logger.Named("orchestrator"),
	}
}

// Run blocks until ctx is cancelled or a task fails, then terminates every
// session, flushes the ledger and saves the pools.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator starting",
		zap.Int("sessions", o.opts.Sessions),
		zap.Duration("tick", o.opts.Tick),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.fleet.Ledger.Run(gctx) })
	g.Go(func() error { return o.monitor.Run(gctx) })
	g.Go(func() error { return o.consumeTerminations(gctx) })
	g.Go(func() error {
		o.Reconcile(gctx)
		return o.every(gctx, o.opts.Tick, func(ctx context.Context) { o.Reconcile(ctx) })
	})
	g.Go(func() error {
		return o.every(gctx, o.opts.RotationInterval, func(context.Context) { o.rotate() })
	})
	g.Go(func() error {
		return o.every(gctx, o.opts.SnapshotInterval, func(ctx context.Context) {
			// failures are logged by SavePools
			_ = o.SavePools(ctx)
		})
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, o.shutdown())
}

func (o *Orchestrator) every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.fleet.Clock.After(interval):
			fn(ctx)
		}
	}
}

func (o *Orchestrator) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := o.lifecycle.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.fleet.Ledger.Flush(ctx); err != nil {
		o.logger.Warn("final ledger flush", zap.Error(err))
	}
	if err := o.SavePools(ctx); err != nil {
		errs = append(errs, err)
	}

	o.logger.Info("orchestrator stopped", zap.Int64("terminated", o.lifecycle.TerminatedTotal()))
	return errors.Join(errs...)
}

// Reconcile opens sessions until the live count reaches the target. Opens
// wait on the rate limiter; pool exhaustion stops the round and starts a
// fleet-wide backoff that later rounds respect.
func (o *Orchestrator) Reconcile(ctx context.Context) int {
	opened := 0
	for {
		role, ok := o.reserve()
		if !ok {
			return opened
		}

		if err := o.limiter.Wait(ctx); err != nil {
			o.unreserve()
			return opened
		}

		_, err := o.lifecycle.Open(ctx, role)
		o.unreserve()

		switch {
		case err == nil:
			o.clearBackoff()
			opened++
		case errors.Is(err, domain.ErrPoolExhausted):
			o.startBackoff(err)
			return opened
		case errors.Is(err, domain.ErrHandshakeFailed):
			// the session exists and retries on its own
			o.clearBackoff()
			opened++
		case errors.Is(err, errSessionClosed), errors.Is(err, errLifecycleClosed), errors.Is(err, errOpenAbandoned):
			o.logger.Debug("open interrupted", zap.String("role", string(role)), zap.Error(err))
			return opened
		default:
			o.logger.Error("open session", zap.String("role", string(role)), zap.Error(err))
			return opened
		}
	}
}

// reserve claims an open slot if the fleet is below target and not backing off.
func (o *Orchestrator) reserve() (domain.Role, bool) {
	live := len(o.lifecycle.List())
	now := o.fleet.Clock.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	if now.Before(o.backoffUntil) {
		return "", false
	}
	if live+o.inflight >= o.opts.Sessions {
		return "", false
	}

	role := o.opts.Roles[o.nextRole%len(o.opts.Roles)]
	o.nextRole++
	o.inflight++
	return role, true
}

func (o *Orchestrator) unreserve() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight--
}

func (o *Orchestrator) startBackoff(cause error) {
	now := o.fleet.Clock.Now()

	o.mu.Lock()
	delay := o.opts.ExhaustedBase << min(o.exhaustedStreak, 16)
	if delay <= 0 || delay > o.opts.ExhaustedCap {
		delay = o.opts.ExhaustedCap
	}
	o.exhaustedStreak++
	o.backoffUntil = now.Add(delay)
	streak := o.exhaustedStreak
	o.mu.Unlock()

	fleetBackoffs.Inc()
	o.logger.Warn("fleet backing off after pool exhaustion",
		zap.Duration("delay", delay),
		zap.Int("streak", streak),
		zap.Error(cause),
	)
}

func (o *Orchestrator) clearBackoff() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exhaustedStreak = 0
	o.backoffUntil = time.Time{}
}

func (o *Orchestrator) BackoffUntil() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.backoffUntil
}

func (o *Orchestrator) rotate() {
	rotated := o.fleet.RotateAll()
	o.logger.Info("periodic pool rotation", zap.Int("rotated", rotated))
}

// SavePools writes every pool to its repository.
func (o *Orchestrator) SavePools(ctx context.Context) error {
	var errs []error
	if o.repos.Accounts != nil {
		if err := o.repos.Accounts.SaveAll(ctx, o.fleet.Accounts.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("save account pool: %w", err))
		}
	}
	if o.repos.Routes != nil {
		if err := o.repos.Routes.SaveAll(ctx, o.fleet.Routes.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("save route pool: %w", err))
		}
	}
	if o.repos.Fingerprints != nil {
		if err := o.repos.Fingerprints.SaveAll(ctx, o.fleet.Fingerprints.Snapshot()); err != nil {
			errs = append(errs, fmt.Errorf("save fingerprint pool: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		o.logger.Warn("save pools", zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
	}
	return nil
}

func (o *Orchestrator) consumeTerminations(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case note := <-o.lifecycle.Terminations():
			o.lifecycle.Forget(note.SessionID)
			if note.Reason == domain.TerminationMaxAttempts {
				o.logger.Warn("session gave up, replacement on next tick",
					zap.String("session", string(note.SessionID)),
					zap.String("role", string(note.Role)),
					zap.Int("attempts", note.Attempts),
				)
			}
		}
	}
}

// Perform records a session action with the monitor and forwards it to the
// executor. It returns the incremental risk the action added.
func (o *Orchestrator) Perform(ctx context.Context, id domain.SessionID, kind domain.EventKind, attributes map[string]float64) (int, error) {
	session, err := o.lifecycle.Get(id)
	if err != nil {
		return 0, err
	}
	if !session.State.Live() {
		return 0, fmt.Errorf("%w: %s is terminated", domain.ErrSessionNotFound, id)
	}

	risk := o.monitor.MonitorAction(ctx, id, kind, attributes)
	if o.executor == nil {
		return risk, nil
	}

	handle, ok := o.lifecycle.Handle(id)
	if !ok {
		return risk, fmt.Errorf("perform %s: session %s is not connected", kind, id)
	}
	if err := o.executor.Execute(ctx, handle, kind, attributes); err != nil {
		return risk, fmt.Errorf("perform %s: %w", kind, err)
	}
	return risk, nil
}

// ResetSuspicion is the administrative reset of the suspicion state.
func (o *Orchestrator) ResetSuspicion() {
	o.monitor.Reset()
}
