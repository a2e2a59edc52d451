package application

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/domain"
)

const (
	volumeRiskPoints     = 20
	repetitionRiskPoints = 30
	unrealismRiskPoints  = 40

	repetitionWindow = 20
	repetitionLength = 5
	unrealismWindow  = 50

	precisionLimit       = 0.95
	precisionRiskPoints  = 10
	reactionLimitMs      = 100
	reactionRiskPoints   = 15
	sameKindWindow       = 20
	sameKindLimit        = 5
	sameKindRiskPoints   = 20
	timingToleranceMs    = 50
	timingRegularity     = 0.9
	timingRiskPoints     = 15
	immediateBreakRisk   = 20
	proactiveLevelDivide = 20
)

// unrealisticTags mark event kinds that describe superhuman behaviour. A kind
// matches when it contains any tag.
var unrealisticTags = []string{
	"perfect_pathfinding",
	"instant_reactions",
	"no_mistakes",
	"constant_activity",
	"no_breaks",
	"perfect_memory",
}

type MonitorOptions struct {
	Interval time.Duration
	// Window bounds the volume check to events newer than now-Window; zero
	// uses the whole ledger.
	Window           time.Duration
	HighActivity     int
	UnrealisticCount int
	AlertThreshold   int
}

func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		Interval:         60 * time.Second,
		HighActivity:     100,
		UnrealisticCount: 10,
		AlertThreshold:   50,
	}
}

type Assessment struct {
	Level       int
	Volume      int
	Repetition  int
	Unrealism   int
	Incremental int
	Factors     []domain.RiskFactor
	// Alert is set when Level is strictly above the alert threshold.
	Alert      bool
	AssessedAt time.Time
}

// SuspicionMonitor scores the ledger on an interval and on individual
// actions, and hands triggered factors to the dispatcher.
type SuspicionMonitor struct {
	fleet      *Fleet
	dispatcher *CountermeasureDispatcher
	opts       MonitorOptions
	logger     *zap.Logger

	mu          sync.Mutex
	incremental int
}

// NewSuspicionMonitor builds a monitor. dispatcher may be nil, in which case
// assessments are recorded but never acted on.
func NewSuspicionMonitor(fleet *Fleet, dispatcher *CountermeasureDispatcher, opts MonitorOptions) *SuspicionMonitor {
	fleet.withDefaults()
	if opts.Interval <= 0 {
		opts.Interval = DefaultMonitorOptions().Interval
	}

	return &SuspicionMonitor{
		fleet:      fleet,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     fleet.Logger.Named("monitor"),
	}
}

// Assess scores the current ledger window plus the incremental risk recorded
// since the last Evaluate. It reads the ledger without changing it or the
// suspicion state.
func (m *SuspicionMonitor) Assess() Assessment {
	m.mu.Lock()
	incremental := m.incremental
	m.mu.Unlock()

	return m.assess(incremental)
}

func (m *SuspicionMonitor) assess(incremental int) Assessment {
	now := m.fleet.Clock.Now()
	a := Assessment{Incremental: incremental, AssessedAt: now}

	if m.volume(now) > m.opts.HighActivity {
		a.Volume = volumeRiskPoints
		a.Factors = append(a.Factors, domain.RiskVolume)
	}

	recent := m.recentKinds(repetitionWindow)
	if hasRepeatedSequence(recent, repetitionLength) {
		a.Repetition = repetitionRiskPoints
		a.Factors = append(a.Factors, domain.RiskRepetition)
	}

	if countUnrealistic(m.recentKinds(unrealismWindow)) > m.opts.UnrealisticCount {
		a.Unrealism = unrealismRiskPoints
		a.Factors = append(a.Factors, domain.RiskUnrealism)
	}

	a.Level = domain.ClampLevel(a.Volume + a.Repetition + a.Unrealism + a.Incremental)
	a.Alert = a.Level > m.opts.AlertThreshold
	return a
}

func (m *SuspicionMonitor) volume(now time.Time) int {
	if m.opts.Window <= 0 {
		return m.fleet.Ledger.Len()
	}
	count := 0
	for range m.fleet.Ledger.Since(now.Add(-m.opts.Window)) {
		count++
	}
	return count
}

func (m *SuspicionMonitor) recentKinds(n int) []domain.EventKind {
	kinds := make([]domain.EventKind, 0, n)
	for event := range m.fleet.Ledger.RecentWindow(n) {
		kinds = append(kinds, event.Kind)
	}
	return kinds
}

// hasRepeatedSequence reports whether any run of length consecutive kinds
// occurs more than once in kinds. Occurrences may overlap.
func hasRepeatedSequence(kinds []domain.EventKind, length int) bool {
	if len(kinds) < length+1 {
		return false
	}
	seen := make(map[string]struct{}, len(kinds))
	for i := 0; i+length <= len(kinds); i++ {
		parts := make([]string, length)
		for j := range length {
			parts[j] = string(kinds[i+j])
		}
		key := strings.Join(parts, "\x00")
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
	}
	return false
}

func countUnrealistic(kinds []domain.EventKind) int {
	count := 0
	for _, kind := range kinds {
		if isUnrealistic(kind) {
			count++
		}
	}
	return count
}

func isUnrealistic(kind domain.EventKind) bool {
	for _, tag := range unrealisticTags {
		if strings.Contains(string(kind), tag) {
			return true
		}
	}
	return false
}

// Evaluate commits a fresh assessment as the suspicion level, clears the
// incremental risk, dispatches countermeasures on alert and then applies the
// proactive level/20 random countermeasures.
func (m *SuspicionMonitor) Evaluate(ctx context.Context) Assessment {
	m.mu.Lock()
	a := m.assess(m.incremental)
	m.incremental = 0
	m.mu.Unlock()

	m.fleet.Suspicion.Commit(a.Level, a.AssessedAt)
	m.logger.Debug("suspicion assessed",
		zap.Int("level", a.Level),
		zap.Int("volume", a.Volume),
		zap.Int("repetition", a.Repetition),
		zap.Int("unrealism", a.Unrealism),
		zap.Int("incremental", a.Incremental),
	)

	if m.dispatcher == nil {
		return a
	}

	if a.Alert {
		m.logger.Warn("suspicion above threshold",
			zap.Int("level", a.Level),
			zap.Int("threshold", m.opts.AlertThreshold),
			zap.Any("factors", a.Factors),
		)
		m.dispatcher.Dispatch(ctx, a.Factors)
	}

	if proactive := a.Level / proactiveLevelDivide; proactive > 0 {
		m.dispatcher.ApplyRandom(ctx, proactive)
	}

	return a
}

// MonitorAction records one session action in the ledger, scores it on its
// own and raises the suspicion level immediately. It returns the risk added.
func (m *SuspicionMonitor) MonitorAction(ctx context.Context, sessionID domain.SessionID, kind domain.EventKind, attributes map[string]float64) int {
	event := domain.ActivityEvent{
		SessionID:  sessionID,
		Kind:       kind,
		Timestamp:  m.fleet.Clock.Now(),
		Attributes: attributes,
	}
	m.fleet.Ledger.Append(event)

	risk := m.actionRisk(event)
	if risk == 0 {
		return 0
	}

	m.mu.Lock()
	m.incremental += risk
	m.mu.Unlock()

	level := m.fleet.Suspicion.Adjust(risk)
	m.logger.Info("suspicious action",
		zap.String("session", string(sessionID)),
		zap.String("kind", string(kind)),
		zap.Int("risk", risk),
		zap.Int("level", level),
	)

	if risk > immediateBreakRisk && m.dispatcher != nil {
		// the result is logged by the dispatcher
		_, _ = m.dispatcher.Apply(ctx, CountermeasurePatternBreaking)
	}
	return risk
}

func (m *SuspicionMonitor) actionRisk(event domain.ActivityEvent) int {
	risk := 0

	if precision, ok := event.Attr(domain.AttrPrecision); ok && precision > precisionLimit {
		risk += precisionRiskPoints
	}
	if reaction, ok := event.Attr(domain.AttrReactionTimeMs); ok && reaction < reactionLimitMs {
		risk += reactionRiskPoints
	}

	same := 0
	for _, kind := range m.recentKinds(sameKindWindow) {
		if kind == event.Kind {
			same++
		}
	}
	if same > sameKindLimit {
		risk += sameKindRiskPoints
	}

	if tooRegular(event) {
		risk += timingRiskPoints
	}

	return risk
}

func tooRegular(event domain.ActivityEvent) bool {
	if regularity, ok := event.Attr(domain.AttrTimingRegularity); ok && regularity > timingRegularity {
		return true
	}
	interval, hasInterval := event.Attr(domain.AttrTimingIntervalMs)
	average, hasAverage := event.Attr(domain.AttrTimingAverageMs)
	return hasInterval && hasAverage && math.Abs(interval-average) < timingToleranceMs
}

// Reset clears the level, the pending incremental risk and the active
// countermeasure set.
func (m *SuspicionMonitor) Reset() {
	m.mu.Lock()
	m.incremental = 0
	m.mu.Unlock()

	m.fleet.Suspicion.Reset()
	m.logger.Info("suspicion reset")
}

// Run evaluates once per interval of the fleet clock until ctx is cancelled.
func (m *SuspicionMonitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.fleet.Clock.After(m.opts.Interval):
			m.Evaluate(ctx)
		}
	}
}
