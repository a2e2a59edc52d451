package application

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

// Filter restricts acquisition to a subset of the pool.
type Filter[T any] func(resource domain.Resource[T]) bool

type PoolOptions struct {
	// Alpha is the success adjustment: rate += Alpha * (1 - rate).
	Alpha float64
	// Beta is the failure adjustment: rate -= Beta * rate.
	Beta float64
	// Floor excludes resources whose success rate is strictly below it.
	Floor float64
	// ResetRate is given to added and reset resources.
	ResetRate float64
}

func DefaultPoolOptions() PoolOptions {
	return PoolOptions{Alpha: 0.05, Beta: 0.1, Floor: 0.5, ResetRate: 0.9}
}

type PoolStats struct {
	Kind               domain.ResourceKind `json:"kind"`
	Total              int                 `json:"total"`
	Available          int                 `json:"available"`
	CheckedOut         int                 `json:"checked_out"`
	BelowFloor         int                 `json:"below_floor"`
	AverageSuccessRate float64             `json:"average_success_rate"`
	LastRotation       time.Time           `json:"last_rotation"`
	ByClass            map[string]int      `json:"by_class,omitempty"`
	ByCountry          map[string]int      `json:"by_country,omitempty"`
}

// ResourcePool hands out the best available resource of one kind and scores
// use outcomes. All state is guarded by one mutex; no method blocks on I/O.
type ResourcePool[T any] struct {
	kind    domain.ResourceKind
	opts    PoolOptions
	clock   ports.Clock
	random  ports.Random
	logger  *zap.Logger
	filters map[domain.Role]Filter[T]

	mu           sync.Mutex
	order        []domain.ResourceID
	items        map[domain.ResourceID]*domain.Resource[T]
	checkedOut   map[domain.ResourceID]struct{}
	dirty        bool
	lastRotation time.Time
}

func (p *ResourcePool[T]) Kind() domain.ResourceKind {
	return p.kind
}

func (p *ResourcePool[T]) Options() PoolOptions {
	return p.opts
}

// AcquireForRole applies the quality filter registered for role, if any.
func (p *ResourcePool[T]) AcquireForRole(role domain.Role) (domain.Resource[T], error) {
	return p.Acquire(p.filters[role])
}

// Acquire checks out the resource with the highest success rate. Ties go to
// the least recently used resource (never used counts as oldest), then to
// pool order. An empty candidate set fails with ErrPoolExhausted.
func (p *ResourcePool[T]) Acquire(filter Filter[T]) (domain.Resource[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *domain.Resource[T]
	for _, id := range p.order {
		candidate := p.items[id]
		if _, busy := p.checkedOut[id]; busy {
			continue
		}
		if candidate.SuccessRate < p.opts.Floor {
			continue
		}
		if filter != nil && !filter(*candidate) {
			continue
		}
		if best == nil || preferred(candidate, best) {
			best = candidate
		}
	}

	if best == nil {
		poolAcquisitions.WithLabelValues(string(p.kind), "exhausted").Inc()
		return domain.Resource[T]{}, fmt.Errorf("%w: %s", domain.ErrPoolExhausted, p.kind)
	}

	best.LastUsedAt = p.clock.Now()
	p.checkedOut[best.ID] = struct{}{}
	p.dirty = true
	poolAcquisitions.WithLabelValues(string(p.kind), "ok").Inc()

	return *best, nil
}

func preferred[T any](candidate, current *domain.Resource[T]) bool {
	if candidate.SuccessRate != current.SuccessRate {
		return candidate.SuccessRate > current.SuccessRate
	}
	if candidate.NeverUsed() != current.NeverUsed() {
		return candidate.NeverUsed()
	}
	return candidate.LastUsedAt.Before(current.LastUsedAt)
}

// Release ends a checkout and scores it. Releasing a resource that is not
// checked out fails with ErrNotCheckedOut and scores nothing.
func (p *ResourcePool[T]) Release(id domain.ResourceID, outcome domain.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	resource, err := p.endCheckoutLocked(id)
	if err != nil {
		return err
	}

	p.scoreLocked(resource, outcome)
	return nil
}

// Record scores a resource outside any checkout, as a probe does. A resource
// held by a session cannot be recorded against.
func (p *ResourcePool[T]) Record(id domain.ResourceID, outcome domain.Outcome) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	resource, ok := p.items[id]
	if !ok {
		return fmt.Errorf("%w: %s %s", domain.ErrResourceNotFound, p.kind, id)
	}
	if _, busy := p.checkedOut[id]; busy {
		return fmt.Errorf("%w: %s %s", domain.ErrResourceInUse, p.kind, id)
	}

	resource.LastUsedAt = p.clock.Now()
	p.dirty = true
	p.scoreLocked(resource, outcome)
	return nil
}

func (p *ResourcePool[T]) scoreLocked(resource *domain.Resource[T], outcome domain.Outcome) {
	switch outcome {
	case domain.OutcomeSuccess:
		resource.SuccessRate += p.opts.Alpha * (1 - resource.SuccessRate)
		resource.FailureStreak = 0
	default:
		resource.SuccessRate -= p.opts.Beta * resource.SuccessRate
		resource.FailureStreak++
	}
	resource.SuccessRate = domain.ClampRate(resource.SuccessRate)
	poolReleases.WithLabelValues(string(p.kind), outcome.String()).Inc()

	if resource.SuccessRate < p.opts.Floor {
		p.logger.Debug("resource below floor",
			zap.String("resource", string(resource.ID)),
			zap.Float64("success_rate", resource.SuccessRate),
			zap.Int("failure_streak", resource.FailureStreak),
		)
	}
}

// Return ends a checkout without scoring it.
func (p *ResourcePool[T]) Return(id domain.ResourceID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.endCheckoutLocked(id)
	return err
}

func (p *ResourcePool[T]) endCheckoutLocked(id domain.ResourceID) (*domain.Resource[T], error) {
	resource, ok := p.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrResourceNotFound, p.kind, id)
	}
	if _, busy := p.checkedOut[id]; !busy {
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotCheckedOut, p.kind, id)
	}

	delete(p.checkedOut, id)
	p.dirty = true
	return resource, nil
}

// Rotate shuffles the iteration order and forgets every LastUsedAt. It
// returns false without changing anything when the pool has not been used
// since the previous rotation, so repeating it is harmless.
func (p *ResourcePool[T]) Rotate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.dirty {
		return false
	}

	p.rotateLocked()
	return true
}

// Reshuffle rotates even when the pool is untouched. It backs the
// administrative rotate command.
func (p *ResourcePool[T]) Reshuffle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rotateLocked()
}

func (p *ResourcePool[T]) rotateLocked() {
	p.random.Shuffle(len(p.order), func(i, j int) {
		p.order[i], p.order[j] = p.order[j], p.order[i]
	})
	for _, resource := range p.items {
		resource.LastUsedAt = time.Time{}
	}
	p.dirty = false
	p.lastRotation = p.clock.Now()
	poolRotations.WithLabelValues(string(p.kind)).Inc()

	p.logger.Info("pool rotated", zap.Int("size", len(p.order)))
}

// Add registers a new resource with the reset success rate.
func (p *ResourcePool[T]) Add(resource domain.Resource[T]) error {
	if resource.ID == "" {
		return fmt.Errorf("add %s: resource id is empty", p.kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.items[resource.ID]; exists {
		return fmt.Errorf("%w: %s %s", domain.ErrDuplicateResource, p.kind, resource.ID)
	}

	resource.SuccessRate = p.opts.ResetRate
	resource.FailureStreak = 0
	resource.LastUsedAt = time.Time{}
	p.insertLocked(resource)
	return nil
}

func (p *ResourcePool[T]) insertLocked(resource domain.Resource[T]) {
	stored := resource
	p.items[resource.ID] = &stored
	p.order = append(p.order, resource.ID)
	p.dirty = true
}

// Remove deletes a resource that is not checked out.
func (p *ResourcePool[T]) Remove(id domain.ResourceID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.items[id]; !ok {
		return fmt.Errorf("%w: %s %s", domain.ErrResourceNotFound, p.kind, id)
	}
	if _, busy := p.checkedOut[id]; busy {
		return fmt.Errorf("%w: %s %s", domain.ErrResourceInUse, p.kind, id)
	}

	delete(p.items, id)
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

// Reset restores a resource to the reset success rate and clears its streak,
// bringing it back above the floor.
func (p *ResourcePool[T]) Reset(id domain.ResourceID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	resource, ok := p.items[id]
	if !ok {
		return fmt.Errorf("%w: %s %s", domain.ErrResourceNotFound, p.kind, id)
	}

	resource.SuccessRate = p.opts.ResetRate
	resource.FailureStreak = 0
	p.dirty = true
	return nil
}

func (p *ResourcePool[T]) Get(id domain.ResourceID) (domain.Resource[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	resource, ok := p.items[id]
	if !ok {
		return domain.Resource[T]{}, false
	}
	return *resource, true
}

func (p *ResourcePool[T]) IsCheckedOut(id domain.ResourceID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, busy := p.checkedOut[id]
	return busy
}

func (p *ResourcePool[T]) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.order)
}

// Snapshot copies every resource in iteration order.
func (p *ResourcePool[T]) Snapshot() []domain.Resource[T] {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.Resource[T], 0, len(p.order))
	for _, id := range p.order {
		out = append(out, *p.items[id])
	}
	return out
}

func (p *ResourcePool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PoolStats{
		Kind:         p.kind,
		Total:        len(p.order),
		CheckedOut:   len(p.checkedOut),
		LastRotation: p.lastRotation,
	}

	sum := 0.0
	for _, id := range p.order {
		resource := p.items[id]
		sum += resource.SuccessRate
		_, busy := p.checkedOut[id]
		switch {
		case resource.SuccessRate < p.opts.Floor:
			stats.BelowFloor++
		case !busy:
			stats.Available++
		}
	}
	if stats.Total > 0 {
		stats.AverageSuccessRate = sum / float64(stats.Total)
	}

	return stats
}
