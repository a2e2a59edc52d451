package application

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

// SuspicionTracker guards the fleet-wide SuspicionState. Only the monitor and
// the dispatcher write to it.
type SuspicionTracker struct {
	mu    sync.RWMutex
	state domain.SuspicionState
}

func NewSuspicionTracker() *SuspicionTracker {
	return &SuspicionTracker{state: domain.SuspicionState{ActiveCountermeasures: make(map[string]struct{})}}
}

func (t *SuspicionTracker) Level() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Level
}

// Snapshot returns a copy that shares nothing with the tracker.
func (t *SuspicionTracker) Snapshot() domain.SuspicionState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	active := make(map[string]struct{}, len(t.state.ActiveCountermeasures))
	for name := range t.state.ActiveCountermeasures {
		active[name] = struct{}{}
	}
	return domain.SuspicionState{
		Level:                 t.state.Level,
		ActiveCountermeasures: active,
		LastAssessedAt:        t.state.LastAssessedAt,
	}
}

// Commit stores the result of a full assessment.
func (t *SuspicionTracker) Commit(level int, at time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Level = domain.ClampLevel(level)
	t.state.LastAssessedAt = at
	suspicionLevelGauge.Set(float64(t.state.Level))
	return t.state.Level
}

// Adjust moves the level by delta, clamped to 0..100, and returns the new level.
func (t *SuspicionTracker) Adjust(delta int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Level = domain.ClampLevel(t.state.Level + delta)
	suspicionLevelGauge.Set(float64(t.state.Level))
	return t.state.Level
}

func (t *SuspicionTracker) MarkCountermeasure(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.ActiveCountermeasures[name] = struct{}{}
}

func (t *SuspicionTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Level = 0
	t.state.ActiveCountermeasures = make(map[string]struct{})
	suspicionLevelGauge.Set(0)
}

// Fleet is the shared state every component is constructed with: the three
// pools, the ledger and the suspicion state, plus the clock, random source
// and logger they all use.
type Fleet struct {
	Accounts     *ResourcePool[domain.AccountAttributes]
	Routes       *ResourcePool[domain.RouteAttributes]
	Fingerprints *ResourcePool[domain.FingerprintAttributes]
	Ledger       *ActivityLedger
	Suspicion    *SuspicionTracker
	Clock        ports.Clock
	Random       ports.Random
	Logger       *zap.Logger
}

func (f *Fleet) withDefaults() *Fleet {
	if f.Clock == nil {
		f.Clock = ports.SystemClock{}
	}
	if f.Random == nil {
		f.Random = ports.NewSeededRandom(0)
	}
	if f.Logger == nil {
		f.Logger = zap.NewNop()
	}
	if f.Suspicion == nil {
		f.Suspicion = NewSuspicionTracker()
	}
	if f.Ledger == nil {
		f.Ledger = NewActivityLedger(nil, f.Clock, f.Logger, DefaultLedgerOptions())
	}
	return f
}

// RotateAll rotates every pool and reports how many actually reordered.
func (f *Fleet) RotateAll() int {
	rotated := 0
	for _, rotate := range []func() bool{f.Accounts.Rotate, f.Routes.Rotate, f.Fingerprints.Rotate} {
		if rotate() {
			rotated++
		}
	}
	return rotated
}
