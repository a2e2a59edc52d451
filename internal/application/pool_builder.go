package application

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

// Generator produces the attributes of the index-th synthetic resource.
type Generator[T any] func(index int) (domain.ResourceID, T)

// PoolBuilder assembles a ResourcePool from persisted resources or, when none
// are supplied, from a generator.
type PoolBuilder[T any] struct {
	kind      domain.ResourceKind
	opts      PoolOptions
	clock     ports.Clock
	random    ports.Random
	logger    *zap.Logger
	generator Generator[T]
	filters   map[domain.Role]Filter[T]
	resources []domain.Resource[T]
}

func NewPoolBuilder[T any](kind domain.ResourceKind, clock ports.Clock, random ports.Random, logger *zap.Logger) *PoolBuilder[T] {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if random == nil {
		random = ports.NewSeededRandom(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PoolBuilder[T]{
		kind:    kind,
		opts:    DefaultPoolOptions(),
		clock:   clock,
		random:  random,
		logger:  logger,
		filters: make(map[domain.Role]Filter[T]),
	}
}

func (b *PoolBuilder[T]) WithOptions(opts PoolOptions) *PoolBuilder[T] {
	b.opts = opts
	return b
}

func (b *PoolBuilder[T]) WithGenerator(generator Generator[T]) *PoolBuilder[T] {
	b.generator = generator
	return b
}

func (b *PoolBuilder[T]) WithRoleFilter(role domain.Role, filter Filter[T]) *PoolBuilder[T] {
	b.filters[role] = filter
	return b
}

// WithResources seeds the pool with persisted resources, scores included.
func (b *PoolBuilder[T]) WithResources(resources []domain.Resource[T]) *PoolBuilder[T] {
	b.resources = append(b.resources[:0:0], resources...)
	return b
}

// Build returns the pool. size is only used when no persisted resources were
// supplied.
func (b *PoolBuilder[T]) Build(size int) (*ResourcePool[T], error) {
	pool := &ResourcePool[T]{
		kind:       b.kind,
		opts:       b.opts,
		clock:      b.clock,
		random:     b.random,
		logger:     b.logger.Named("pool").With(zap.String("kind", string(b.kind))),
		filters:    b.filters,
		items:      make(map[domain.ResourceID]*domain.Resource[T]),
		checkedOut: make(map[domain.ResourceID]struct{}),
	}

	if len(b.resources) > 0 {
		for _, resource := range b.resources {
			if resource.ID == "" {
				return nil, fmt.Errorf("build %s pool: resource id is empty", b.kind)
			}
			if _, exists := pool.items[resource.ID]; exists {
				return nil, fmt.Errorf("build %s pool: %w: %s", b.kind, domain.ErrDuplicateResource, resource.ID)
			}
			resource.SuccessRate = domain.ClampRate(resource.SuccessRate)
			pool.insertLocked(resource)
		}
		pool.dirty = false
		return pool, nil
	}

	if size < 0 {
		return nil, fmt.Errorf("build %s pool: negative size %d", b.kind, size)
	}
	if size > 0 && b.generator == nil {
		return nil, fmt.Errorf("build %s pool: no generator and no persisted resources", b.kind)
	}

	for i := 0; i < size; i++ {
		id, attributes := b.generator(i)
		if _, exists := pool.items[id]; exists {
			return nil, fmt.Errorf("build %s pool: %w: %s", b.kind, domain.ErrDuplicateResource, id)
		}
		pool.insertLocked(domain.Resource[T]{
			ID:          id,
			Attributes:  attributes,
			SuccessRate: b.opts.ResetRate,
		})
	}
	pool.dirty = false

	pool.logger.Info("pool generated", zap.Int("size", size))
	return pool, nil
}
