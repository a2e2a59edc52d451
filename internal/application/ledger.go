package application

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

const topKindsLimit = 5

type LedgerOptions struct {
	MaxEntries   int
	PersistEvery int
	SnapshotTail int
	// QueueSize bounds snapshots waiting for the flush worker; overflow is dropped.
	QueueSize int
}

func DefaultLedgerOptions() LedgerOptions {
	return LedgerOptions{MaxEntries: 1000, PersistEvery: 100, SnapshotTail: 10, QueueSize: 8}
}

// ActivityLedger is the append-only, size-bounded event log. Once it holds
// more than MaxEntries events the oldest half is discarded in one batch.
type ActivityLedger struct {
	opts   LedgerOptions
	store  ports.SnapshotStore
	clock  ports.Clock
	logger *zap.Logger

	levelSource atomic.Pointer[func() int]

	mu       sync.RWMutex
	events   []domain.ActivityEvent
	counts   map[domain.EventKind]int
	appended uint64

	pending         chan domain.LedgerSnapshot
	persistFailures atomic.Int64
	dropped         atomic.Int64
}

func NewActivityLedger(store ports.SnapshotStore, clock ports.Clock, logger *zap.Logger, opts LedgerOptions) *ActivityLedger {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultLedgerOptions()
	if opts.MaxEntries <= 1 {
		opts.MaxEntries = defaults.MaxEntries
	}
	if opts.SnapshotTail <= 0 {
		opts.SnapshotTail = defaults.SnapshotTail
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}

	return &ActivityLedger{
		opts:    opts,
		store:   store,
		clock:   clock,
		logger:  logger.Named("ledger"),
		events:  make([]domain.ActivityEvent, 0, opts.MaxEntries+1),
		counts:  make(map[domain.EventKind]int),
		pending: make(chan domain.LedgerSnapshot, opts.QueueSize),
	}
}

// SetLevelSource wires the suspicion level recorded in snapshots.
func (l *ActivityLedger) SetLevelSource(source func() int) {
	l.levelSource.Store(&source)
}

// Append records an event. It never blocks on persistence: every
// PersistEvery-th append queues a snapshot for the flush worker and drops it
// when the queue is full.
func (l *ActivityLedger) Append(event domain.ActivityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now()
	}
	if event.Attributes != nil {
		event.Attributes = maps.Clone(event.Attributes)
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	l.counts[event.Kind]++
	l.appended++
	if len(l.events) > l.opts.MaxEntries {
		keep := l.opts.MaxEntries / 2
		kept := make([]domain.ActivityEvent, keep, l.opts.MaxEntries+1)
		copy(kept, l.events[len(l.events)-keep:])
		l.events = kept
	}
	due := l.store != nil && l.opts.PersistEvery > 0 && l.appended%uint64(l.opts.PersistEvery) == 0
	var snapshot domain.LedgerSnapshot
	if due {
		snapshot = l.snapshotLocked()
	}
	l.mu.Unlock()

	ledgerAppends.Inc()
	if !due {
		return
	}

	snapshot.SuspicionLevel = l.currentLevel()
	select {
	case l.pending <- snapshot:
	default:
		l.dropped.Add(1)
		ledgerFlushes.WithLabelValues("dropped").Inc()
		l.logger.Warn("snapshot queue full, dropping snapshot", zap.Uint64("appended", snapshot.Appended))
	}
}

func (l *ActivityLedger) currentLevel() int {
	source := l.levelSource.Load()
	if source == nil || *source == nil {
		return 0
	}
	return (*source)()
}

func (l *ActivityLedger) snapshotLocked() domain.LedgerSnapshot {
	tail := min(l.opts.SnapshotTail, len(l.events))
	recent := make([]domain.ActivityEvent, tail)
	copy(recent, l.events[len(l.events)-tail:])

	return domain.LedgerSnapshot{
		TakenAt:  l.clock.Now(),
		Appended: l.appended,
		Size:     len(l.events),
		Counts:   maps.Clone(l.counts),
		Recent:   recent,
	}
}

// RecentWindow yields the last n events, oldest first. n <= 0 means all. The
// sequence copies the buffer each time it is ranged over, so it can be
// iterated repeatedly and never consumes the ledger.
func (l *ActivityLedger) RecentWindow(n int) iter.Seq[domain.ActivityEvent] {
	return func(yield func(domain.ActivityEvent) bool) {
		for _, event := range l.recent(n) {
			if !yield(event) {
				return
			}
		}
	}
}

// Since yields events whose timestamp is at or after t, oldest first.
func (l *ActivityLedger) Since(t time.Time) iter.Seq[domain.ActivityEvent] {
	return func(yield func(domain.ActivityEvent) bool) {
		for _, event := range l.recent(0) {
			if event.Timestamp.Before(t) {
				continue
			}
			if !yield(event) {
				return
			}
		}
	}
}

func (l *ActivityLedger) recent(n int) []domain.ActivityEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]domain.ActivityEvent, n)
	copy(out, l.events[len(l.events)-n:])
	return out
}

func (l *ActivityLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Counts returns lifetime per-kind totals, including trimmed events.
func (l *ActivityLedger) Counts() map[domain.EventKind]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.counts)
}

func (l *ActivityLedger) Stats() domain.LedgerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	top := make([]domain.KindCount, 0, len(l.counts))
	for kind, count := range l.counts {
		top = append(top, domain.KindCount{Kind: kind, Count: count})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count == top[j].Count {
			return top[i].Kind < top[j].Kind
		}
		return top[i].Count > top[j].Count
	})
	if len(top) > topKindsLimit {
		top = top[:topKindsLimit]
	}

	return domain.LedgerStats{
		Size:        len(l.events),
		Appended:    l.appended,
		UniqueKinds: len(l.counts),
		TopKinds:    top,
	}
}

func (l *ActivityLedger) PersistFailures() int64 {
	return l.persistFailures.Load()
}

func (l *ActivityLedger) DroppedSnapshots() int64 {
	return l.dropped.Load()
}

// Run drains queued snapshots into the store until ctx is cancelled.
func (l *ActivityLedger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot := <-l.pending:
			// failures are counted and logged by persist
			_ = l.persist(ctx, snapshot)
		}
	}
}

// Flush writes a snapshot of the current buffer synchronously.
func (l *ActivityLedger) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	l.mu.RLock()
	snapshot := l.snapshotLocked()
	l.mu.RUnlock()
	snapshot.SuspicionLevel = l.currentLevel()

	return l.persist(ctx, snapshot)
}

func (l *ActivityLedger) persist(ctx context.Context, snapshot domain.LedgerSnapshot) error {
	if err := l.store.Append(ctx, snapshot); err != nil {
		l.persistFailures.Add(1)
		ledgerFlushes.WithLabelValues("error").Inc()
		l.logger.Warn("persist ledger snapshot", zap.Uint64("appended", snapshot.Appended), zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrPersistenceFailure, err)
	}

	ledgerFlushes.WithLabelValues("ok").Inc()
	l.logger.Debug("ledger snapshot persisted", zap.Uint64("appended", snapshot.Appended), zap.Int("size", snapshot.Size))
	return nil
}
