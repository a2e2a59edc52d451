package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

type PoolSizes struct {
	Accounts     int
	Routes       int
	Fingerprints int
}

func DefaultPoolSizes() PoolSizes {
	return PoolSizes{Accounts: 10, Routes: 100, Fingerprints: 50}
}

func (s PoolSizes) of(kind domain.ResourceKind) int {
	switch kind {
	case domain.ResourceKindAccount:
		return s.Accounts
	case domain.ResourceKindRoute:
		return s.Routes
	default:
		return s.Fingerprints
	}
}

// ResourceView is one persisted resource as the pool commands print it.
type ResourceView struct {
	Kind          domain.ResourceKind `json:"kind"`
	ID            domain.ResourceID   `json:"id"`
	SuccessRate   float64             `json:"success_rate"`
	FailureStreak int                 `json:"failure_streak"`
	LastUsedAt    time.Time           `json:"last_used_at,omitempty"`
	BelowFloor    bool                `json:"below_floor"`
	Summary       string              `json:"summary"`
}

type ProbeOptions struct {
	Timeout     time.Duration
	Parallelism int
}

func DefaultProbeOptions() ProbeOptions {
	return ProbeOptions{Timeout: 10 * time.Second, Parallelism: 4}
}

type ProbeResult struct {
	Kind        domain.ResourceKind `json:"kind"`
	ID          domain.ResourceID   `json:"id"`
	OK          bool                `json:"ok"`
	Error       string              `json:"error,omitempty"`
	Elapsed     time.Duration       `json:"elapsed"`
	SuccessRate float64             `json:"success_rate"`
}

type ProbeResults []ProbeResult

func (r ProbeResults) Passed() int {
	passed := 0
	for _, result := range r {
		if result.OK {
			passed++
		}
	}
	return passed
}

// PoolService loads the fleet's pools at startup and backs the offline pool
// administration commands. Every administrative change is written back
// through the pool repositories.
type PoolService struct {
	repos  PoolRepositories
	opts   PoolOptions
	sizes  PoolSizes
	clock  ports.Clock
	random ports.Random
	logger *zap.Logger
}

func NewPoolService(repos PoolRepositories, opts PoolOptions, sizes PoolSizes, clock ports.Clock, random ports.Random, logger *zap.Logger) *PoolService {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if random == nil {
		random = ports.NewSeededRandom(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PoolService{repos: repos, opts: opts, sizes: sizes, clock: clock, random: random, logger: logger}
}

// LoadFleet reseeds every pool from its repository. A pool with nothing
// persisted is generated at its configured size and saved right away.
func (s *PoolService) LoadFleet(ctx context.Context, ledger *ActivityLedger) (*Fleet, error) {
	accounts, err := loadPool(ctx, s.repos.Accounts, s.accountBuilder(), s.sizes.Accounts)
	if err != nil {
		return nil, err
	}
	routes, err := loadPool(ctx, s.repos.Routes, s.routeBuilder(), s.sizes.Routes)
	if err != nil {
		return nil, err
	}
	fingerprints, err := loadPool(ctx, s.repos.Fingerprints, s.fingerprintBuilder(), s.sizes.Fingerprints)
	if err != nil {
		return nil, err
	}

	s.logger.Info("fleet pools loaded",
		zap.Int("accounts", accounts.Len()),
		zap.Int("routes", routes.Len()),
		zap.Int("fingerprints", fingerprints.Len()),
	)

	return &Fleet{
		Accounts:     accounts,
		Routes:       routes,
		Fingerprints: fingerprints,
		Ledger:       ledger,
		Suspicion:    NewSuspicionTracker(),
		Clock:        s.clock,
		Random:       s.random,
		Logger:       s.logger,
	}, nil
}

func loadPool[T any](ctx context.Context, repo ports.ResourceRepository[T], builder *PoolBuilder[T], size int) (*ResourcePool[T], error) {
	if repo != nil {
		persisted, err := repo.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s pool: %w", builder.kind, err)
		}
		if len(persisted) > 0 {
			return builder.WithResources(persisted).Build(0)
		}
	}

	pool, err := builder.Build(size)
	if err != nil {
		return nil, err
	}
	if repo != nil && pool.Len() > 0 {
		if err := repo.SaveAll(ctx, pool.Snapshot()); err != nil {
			return nil, fmt.Errorf("save generated %s pool: %w", builder.kind, err)
		}
	}
	return pool, nil
}

func (s *PoolService) accountBuilder() *PoolBuilder[domain.AccountAttributes] {
	return NewPoolBuilder[domain.AccountAttributes](domain.ResourceKindAccount, s.clock, s.random, s.logger).
		WithOptions(s.opts).
		WithGenerator(AccountGenerator(NewFaker(s.random), s.clock))
}

func (s *PoolService) routeBuilder() *PoolBuilder[domain.RouteAttributes] {
	return NewPoolBuilder[domain.RouteAttributes](domain.ResourceKindRoute, s.clock, s.random, s.logger).
		WithOptions(s.opts).
		WithGenerator(RouteGenerator(NewFaker(s.random)))
}

func (s *PoolService) fingerprintBuilder() *PoolBuilder[domain.FingerprintAttributes] {
	return NewPoolBuilder[domain.FingerprintAttributes](domain.ResourceKindFingerprint, s.clock, s.random, s.logger).
		WithOptions(s.opts).
		WithGenerator(FingerprintGenerator(NewFaker(s.random))).
		WithRoleFilter(domain.RoleBuilder, BuilderFingerprint).
		WithRoleFilter(domain.RoleExplorer, ExplorerFingerprint)
}

func (s *PoolService) List(ctx context.Context, kind domain.ResourceKind) ([]ResourceView, error) {
	admin, err := s.admin(kind)
	if err != nil {
		return nil, err
	}
	return admin.list(ctx)
}

// Seed replaces a pool with a freshly generated one. A pool that already has
// resources is only replaced with force. A size of zero means the configured
// size.
func (s *PoolService) Seed(ctx context.Context, kind domain.ResourceKind, size int, force bool) (int, error) {
	admin, err := s.admin(kind)
	if err != nil {
		return 0, err
	}
	if size < 0 {
		return 0, fmt.Errorf("seed %s pool: negative size %d", kind, size)
	}
	if size == 0 {
		size = s.sizes.of(kind)
	}
	return admin.seed(ctx, size, force)
}

func (s *PoolService) Reset(ctx context.Context, kind domain.ResourceKind, id domain.ResourceID) error {
	admin, err := s.admin(kind)
	if err != nil {
		return err
	}
	return admin.edit(ctx, func(p editablePool) error { return p.Reset(id) })
}

func (s *PoolService) Remove(ctx context.Context, kind domain.ResourceKind, id domain.ResourceID) error {
	admin, err := s.admin(kind)
	if err != nil {
		return err
	}
	return admin.edit(ctx, func(p editablePool) error { return p.Remove(id) })
}

// Rotate reshuffles a persisted pool and clears its usage times, whether or
// not it was used since the last rotation.
func (s *PoolService) Rotate(ctx context.Context, kind domain.ResourceKind) error {
	admin, err := s.admin(kind)
	if err != nil {
		return err
	}
	return admin.edit(ctx, func(p editablePool) error {
		p.Reshuffle()
		return nil
	})
}

// editablePool is the part of ResourcePool the administrative edits need,
// independent of the attribute type.
type editablePool interface {
	Reset(id domain.ResourceID) error
	Remove(id domain.ResourceID) error
	Reshuffle()
}

type poolAdmin interface {
	list(ctx context.Context) ([]ResourceView, error)
	seed(ctx context.Context, size int, force bool) (int, error)
	edit(ctx context.Context, fn func(editablePool) error) error
}

type kindAdmin[T any] struct {
	kind    domain.ResourceKind
	floor   float64
	repo    ports.ResourceRepository[T]
	builder func() *PoolBuilder[T]
	summary func(T) string
}

func (s *PoolService) admin(kind domain.ResourceKind) (poolAdmin, error) {
	switch kind {
	case domain.ResourceKindAccount:
		if s.repos.Accounts == nil {
			break
		}
		return kindAdmin[domain.AccountAttributes]{
			kind: kind, floor: s.opts.Floor, repo: s.repos.Accounts,
			builder: s.accountBuilder, summary: summarizeAccount,
		}, nil
	case domain.ResourceKindRoute:
		if s.repos.Routes == nil {
			break
		}
		return kindAdmin[domain.RouteAttributes]{
			kind: kind, floor: s.opts.Floor, repo: s.repos.Routes,
			builder: s.routeBuilder, summary: summarizeRoute,
		}, nil
	case domain.ResourceKindFingerprint:
		if s.repos.Fingerprints == nil {
			break
		}
		return kindAdmin[domain.FingerprintAttributes]{
			kind: kind, floor: s.opts.Floor, repo: s.repos.Fingerprints,
			builder: s.fingerprintBuilder, summary: summarizeFingerprint,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported resource kind %q", kind)
	}

	return nil, fmt.Errorf("no repository for %s pool", kind)
}

func (a kindAdmin[T]) list(ctx context.Context) ([]ResourceView, error) {
	persisted, err := a.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s pool: %w", a.kind, err)
	}

	views := make([]ResourceView, 0, len(persisted))
	for _, resource := range persisted {
		views = append(views, ResourceView{
			Kind:          a.kind,
			ID:            resource.ID,
			SuccessRate:   resource.SuccessRate,
			FailureStreak: resource.FailureStreak,
			LastUsedAt:    resource.LastUsedAt,
			BelowFloor:    resource.SuccessRate < a.floor,
			Summary:       a.summary(resource.Attributes),
		})
	}
	return views, nil
}

func (a kindAdmin[T]) seed(ctx context.Context, size int, force bool) (int, error) {
	persisted, err := a.repo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list %s pool: %w", a.kind, err)
	}
	if len(persisted) > 0 && !force {
		return 0, fmt.Errorf("%w: %s pool has %d resources", domain.ErrPoolNotEmpty, a.kind, len(persisted))
	}

	pool, err := a.builder().Build(size)
	if err != nil {
		return 0, err
	}
	if err := a.repo.SaveAll(ctx, pool.Snapshot()); err != nil {
		return 0, fmt.Errorf("save %s pool: %w", a.kind, err)
	}
	return pool.Len(), nil
}

func (a kindAdmin[T]) edit(ctx context.Context, fn func(editablePool) error) error {
	persisted, err := a.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("list %s pool: %w", a.kind, err)
	}

	pool, err := a.builder().WithResources(persisted).Build(0)
	if err != nil {
		return err
	}
	if err := fn(pool); err != nil {
		return err
	}

	if err := a.repo.SaveAll(ctx, pool.Snapshot()); err != nil {
		return fmt.Errorf("save %s pool: %w", a.kind, err)
	}
	return nil
}

func summarizeAccount(a domain.AccountAttributes) string {
	return fmt.Sprintf("%s (%s)", a.Handle, a.Tier)
}

func summarizeRoute(r domain.RouteAttributes) string {
	return fmt.Sprintf("%s %s %s %s", r.Protocol, r.Endpoint(), r.Class, r.Country)
}

func summarizeFingerprint(f domain.FingerprintAttributes) string {
	return fmt.Sprintf("%s %s", f.ClientName, f.Locale)
}

// Probe runs one handshake per resource of kind, pairing it with the best
// resources of the other two pools. Outcomes are scored like a session
// release and saved. progress is called once per finished probe.
func (s *PoolService) Probe(ctx context.Context, kind domain.ResourceKind, driver ports.SessionDriver, opts ProbeOptions, progress func(ProbeResult)) (ProbeResults, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unsupported resource kind %q", kind)
	}
	if driver == nil {
		return nil, fmt.Errorf("probe %s pool: no session driver", kind)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeOptions().Timeout
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}

	fleet, err := s.LoadFleet(ctx, nil)
	if err != nil {
		return nil, err
	}

	base := ports.ConnectRequest{Role: domain.RoleExplorer}
	if best, ok := bestResource(fleet.Accounts.Snapshot()); ok {
		base.Account = best
	}
	if best, ok := bestResource(fleet.Routes.Snapshot()); ok {
		base.Route = best
	}
	if best, ok := bestResource(fleet.Fingerprints.Snapshot()); ok {
		base.Fingerprint = best
	}

	p := &prober{driver: driver, base: base, opts: opts, clock: s.clock, progress: progress}
	switch kind {
	case domain.ResourceKindAccount:
		return probePool(ctx, p, fleet.Accounts, s.repos.Accounts, func(req *ports.ConnectRequest, r domain.Resource[domain.AccountAttributes]) {
			req.Account = r
		})
	case domain.ResourceKindRoute:
		return probePool(ctx, p, fleet.Routes, s.repos.Routes, func(req *ports.ConnectRequest, r domain.Resource[domain.RouteAttributes]) {
			req.Route = r
		})
	default:
		return probePool(ctx, p, fleet.Fingerprints, s.repos.Fingerprints, func(req *ports.ConnectRequest, r domain.Resource[domain.FingerprintAttributes]) {
			req.Fingerprint = r
		})
	}
}

type prober struct {
	driver   ports.SessionDriver
	base     ports.ConnectRequest
	opts     ProbeOptions
	clock    ports.Clock
	mu       sync.Mutex
	progress func(ProbeResult)
}

func probePool[T any](ctx context.Context, p *prober, pool *ResourcePool[T], repo ports.ResourceRepository[T], assign func(*ports.ConnectRequest, domain.Resource[T])) (ProbeResults, error) {
	resources := pool.Snapshot()
	results := make(ProbeResults, len(resources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Parallelism)
	for i, resource := range resources {
		g.Go(func() error {
			req := p.base
			assign(&req, resource)
			req.SessionID = domain.SessionID("probe-" + string(resource.ID))

			started := p.clock.Now()
			hctx, cancel := context.WithTimeout(gctx, p.opts.Timeout)
			handle, err := p.driver.Connect(hctx, req)
			cancel()
			if err == nil {
				_ = handle.Close()
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}

			outcome := domain.OutcomeSuccess
			result := ProbeResult{Kind: pool.Kind(), ID: resource.ID, OK: err == nil, Elapsed: p.clock.Now().Sub(started)}
			if err != nil {
				outcome = domain.OutcomeFailure
				result.Error = err.Error()
			}
			if err := pool.Record(resource.ID, outcome); err != nil {
				return err
			}
			if scored, ok := pool.Get(resource.ID); ok {
				result.SuccessRate = scored.SuccessRate
			}
			results[i] = result

			if p.progress != nil {
				p.mu.Lock()
				p.progress(result)
				p.mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("probe %s pool: %w", pool.Kind(), err)
	}

	if repo != nil {
		if err := repo.SaveAll(ctx, pool.Snapshot()); err != nil {
			return results, fmt.Errorf("save %s pool: %w", pool.Kind(), err)
		}
	}
	return results, nil
}

func bestResource[T any](resources []domain.Resource[T]) (domain.Resource[T], bool) {
	var best *domain.Resource[T]
	for i := range resources {
		if best == nil || resources[i].SuccessRate > best.SuccessRate {
			best = &resources[i]
		}
	}
	if best == nil {
		return domain.Resource[T]{}, false
	}
	return *best, true
}
