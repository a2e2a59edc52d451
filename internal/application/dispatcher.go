package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/domain"
)

var (
	ErrUnknownCountermeasure = errors.New("unknown countermeasure")
	ErrCountermeasureExists  = errors.New("countermeasure already registered")
	ErrInvalidCountermeasure = errors.New("invalid countermeasure")
	errNoActiveSession       = errors.New("no active session")
)

const (
	CountermeasureProxyRotation        = "proxy_rotation"
	CountermeasureFingerprintRotation  = "client_fingerprint_rotation"
	CountermeasureAccountRotation      = "account_rotation"
	CountermeasureScheduleRandomizing  = "activity_schedule_randomization"
	CountermeasureDurationVariation    = "session_duration_variation"
	CountermeasureTimingVariation      = "connection_timing_variation"
	CountermeasurePatternBreaking      = "pattern_breaking"
	CountermeasureFailureInjection     = "failure_injection"
	CountermeasureImperfection         = "human_imperfection_simulation"
	CountermeasureContextAwareBehavior = "context_aware_behavior"
)

type CountermeasureEffect string

const (
	EffectPoolRotation   CountermeasureEffect = "pool_rotation"
	EffectForceReconnect CountermeasureEffect = "force_reconnect"
	EffectSyntheticEvent CountermeasureEffect = "synthetic_event"
	EffectCustom         CountermeasureEffect = "custom"
)

// Countermeasure is one named mitigation. Apply returns a short description
// of what it did, for logging.
type Countermeasure struct {
	Name   string
	Effect CountermeasureEffect
	Apply  func(ctx context.Context) (string, error)
}

// SessionController is the part of the session lifecycle countermeasures act on.
type SessionController interface {
	List() []domain.Session
	ForceReconnect(id domain.SessionID, reason string) error
}

type DispatchOptions struct {
	RandomPicks        int
	IdempotenceWindow  time.Duration
	ImperfectionRelief int
}

func DefaultDispatchOptions() DispatchOptions {
	return DispatchOptions{RandomPicks: 2, IdempotenceWindow: 10 * time.Second, ImperfectionRelief: 10}
}

type CountermeasureResult struct {
	Name    string
	Skipped bool
	Detail  string
	Err     error
}

type DispatchResult struct {
	Factors []domain.RiskFactor
	Results []CountermeasureResult
}

// Applied lists the countermeasures that ran without error.
func (r DispatchResult) Applied() []string {
	names := make([]string, 0, len(r.Results))
	for _, result := range r.Results {
		if !result.Skipped && result.Err == nil {
			names = append(names, result.Name)
		}
	}
	return names
}

var factorCountermeasures = map[domain.RiskFactor][]string{
	domain.RiskVolume:     {CountermeasureScheduleRandomizing, CountermeasureDurationVariation},
	domain.RiskRepetition: {CountermeasurePatternBreaking, CountermeasureFailureInjection},
	domain.RiskUnrealism:  {CountermeasureImperfection, CountermeasureContextAwareBehavior},
}

var syntheticVariants = map[string][]Weighted[string]{
	CountermeasurePatternBreaking: {
		{Value: "sudden_direction_change", Weight: 3},
		{Value: "unexpected_chat_message", Weight: 1},
		{Value: "random_item_drop", Weight: 2},
		{Value: "illogical_crafting", Weight: 1},
		{Value: "pointless_movement", Weight: 3},
	},
	CountermeasureFailureInjection: {
		{Value: "fake_disconnect", Weight: 1},
		{Value: "failed_craft", Weight: 2},
		{Value: "missed_jump", Weight: 3},
		{Value: "wrong_direction", Weight: 3},
		{Value: "inventory_full_error", Weight: 1},
	},
	CountermeasureImperfection: {
		{Value: "typing_mistakes", Weight: 2},
		{Value: "forgetfulness", Weight: 1},
		{Value: "distraction", Weight: 3},
		{Value: "fatigue", Weight: 1},
		{Value: "hesitation", Weight: 3},
	},
	CountermeasureContextAwareBehavior: {
		{Value: "idle_look_around", Weight: 3},
		{Value: "check_inventory", Weight: 2},
		{Value: "wait_for_daylight", Weight: 1},
		{Value: "follow_nearby_player", Weight: 1},
	},
}

// CountermeasureDispatcher is a registry of named countermeasures plus the
// factor mapping that selects them.
type CountermeasureDispatcher struct {
	fleet    *Fleet
	sessions SessionController
	opts     DispatchOptions
	logger   *zap.Logger

	mu          sync.Mutex
	registry    map[string]Countermeasure
	names       []string
	lastApplied map[string]time.Time
}

// NewCountermeasureDispatcher registers the built-in set. sessions may be nil,
// in which case reconnect countermeasures find no session to act on.
func NewCountermeasureDispatcher(fleet *Fleet, sessions SessionController, opts DispatchOptions) *CountermeasureDispatcher {
	fleet.withDefaults()
	if opts.RandomPicks < 0 {
		opts.RandomPicks = 0
	}

	d := &CountermeasureDispatcher{
		fleet:       fleet,
		sessions:    sessions,
		opts:        opts,
		logger:      fleet.Logger.Named("dispatch"),
		registry:    make(map[string]Countermeasure),
		lastApplied: make(map[string]time.Time),
	}

	builtins := []Countermeasure{
		d.rotation(CountermeasureProxyRotation, fleet.Routes.Rotate),
		d.rotation(CountermeasureFingerprintRotation, fleet.Fingerprints.Rotate),
		d.rotation(CountermeasureAccountRotation, fleet.Accounts.Rotate),
		d.reconnect(CountermeasureScheduleRandomizing, d.randomActiveSession),
		d.reconnect(CountermeasureDurationVariation, d.longestActiveSession),
		d.reconnect(CountermeasureTimingVariation, d.uptimeWeightedSession),
		d.synthetic(CountermeasurePatternBreaking),
		d.synthetic(CountermeasureFailureInjection),
		d.synthetic(CountermeasureImperfection),
		d.synthetic(CountermeasureContextAwareBehavior),
	}
	for _, cm := range builtins {
		if err := d.Register(cm); err != nil {
			panic(err)
		}
	}

	return d
}

// Register adds a countermeasure. Names are unique.
func (d *CountermeasureDispatcher) Register(cm Countermeasure) error {
	if cm.Name == "" || cm.Apply == nil {
		return fmt.Errorf("%w: name and apply func are required", ErrInvalidCountermeasure)
	}
	if cm.Effect == "" {
		cm.Effect = EffectCustom
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.registry[cm.Name]; exists {
		return fmt.Errorf("%w: %s", ErrCountermeasureExists, cm.Name)
	}
	d.registry[cm.Name] = cm
	d.names = append(d.names, cm.Name)
	return nil
}

// Names returns registered names in registration order.
func (d *CountermeasureDispatcher) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.names...)
}

// Dispatch applies the countermeasures mapped to factors plus RandomPicks
// drawn uniformly from the whole registry. Each name runs at most once.
func (d *CountermeasureDispatcher) Dispatch(ctx context.Context, factors []domain.RiskFactor) DispatchResult {
	selected := make([]string, 0, 2*len(factors)+d.opts.RandomPicks)
	for _, factor := range factors {
		selected = append(selected, factorCountermeasures[factor]...)
	}
	selected = append(selected, sampleUniform(d.fleet.Random, d.Names(), d.opts.RandomPicks)...)

	result := DispatchResult{Factors: factors}
	result.Results = d.applyAll(ctx, selected)

	d.logger.Info("countermeasures dispatched",
		zap.Any("factors", factors),
		zap.Strings("applied", result.Applied()),
		zap.Int("level", d.fleet.Suspicion.Level()),
	)
	return result
}

// ApplyRandom applies n distinct countermeasures chosen uniformly.
func (d *CountermeasureDispatcher) ApplyRandom(ctx context.Context, n int) DispatchResult {
	return DispatchResult{Results: d.applyAll(ctx, sampleUniform(d.fleet.Random, d.Names(), n))}
}

func (d *CountermeasureDispatcher) applyAll(ctx context.Context, names []string) []CountermeasureResult {
	seen := make(map[string]struct{}, len(names))
	results := make([]CountermeasureResult, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		result, _ := d.Apply(ctx, name)
		results = append(results, result)
	}
	return results
}

// Apply runs one countermeasure unless it already ran within the idempotence
// window, in which case the result is marked skipped.
func (d *CountermeasureDispatcher) Apply(ctx context.Context, name string) (CountermeasureResult, error) {
	result := CountermeasureResult{Name: name}
	now := d.fleet.Clock.Now()

	d.mu.Lock()
	cm, ok := d.registry[name]
	if !ok {
		d.mu.Unlock()
		result.Err = fmt.Errorf("%w: %s", ErrUnknownCountermeasure, name)
		return result, result.Err
	}
	if last, applied := d.lastApplied[name]; applied && d.opts.IdempotenceWindow > 0 && now.Sub(last) < d.opts.IdempotenceWindow {
		d.mu.Unlock()
		result.Skipped = true
		countermeasuresApplied.WithLabelValues(name, "skipped").Inc()
		return result, nil
	}
	previous, hadPrevious := d.lastApplied[name]
	d.lastApplied[name] = now
	d.mu.Unlock()

	detail, err := cm.Apply(ctx)
	if err != nil {
		d.mu.Lock()
		if hadPrevious {
			d.lastApplied[name] = previous
		} else {
			delete(d.lastApplied, name)
		}
		d.mu.Unlock()

		result.Err = fmt.Errorf("apply countermeasure %s: %w", name, err)
		countermeasuresApplied.WithLabelValues(name, "error").Inc()
		d.logger.Warn("countermeasure failed", zap.String("countermeasure", name), zap.Error(err))
		return result, result.Err
	}

	result.Detail = detail
	d.fleet.Suspicion.MarkCountermeasure(name)
	countermeasuresApplied.WithLabelValues(name, "applied").Inc()
	d.logger.Info("countermeasure applied",
		zap.String("countermeasure", name),
		zap.String("effect", string(cm.Effect)),
		zap.String("detail", detail),
	)
	return result, nil
}

func (d *CountermeasureDispatcher) rotation(name string, rotate func() bool) Countermeasure {
	return Countermeasure{
		Name:   name,
		Effect: EffectPoolRotation,
		Apply: func(context.Context) (string, error) {
			if rotate() {
				return "pool rotated", nil
			}
			return "pool unchanged since last rotation", nil
		},
	}
}

func (d *CountermeasureDispatcher) reconnect(name string, pick func([]domain.Session) (domain.Session, bool)) Countermeasure {
	return Countermeasure{
		Name:   name,
		Effect: EffectForceReconnect,
		Apply: func(context.Context) (string, error) {
			if d.sessions == nil {
				return errNoActiveSession.Error(), nil
			}

			session, ok := pick(d.liveSessions())
			if !ok {
				return errNoActiveSession.Error(), nil
			}

			if err := d.sessions.ForceReconnect(session.ID, name); err != nil {
				if errors.Is(err, domain.ErrSessionNotFound) {
					return errNoActiveSession.Error(), nil
				}
				return "", err
			}
			return fmt.Sprintf("session %s reconnecting", session.ID), nil
		},
	}
}

func (d *CountermeasureDispatcher) synthetic(name string) Countermeasure {
	return Countermeasure{
		Name:   name,
		Effect: EffectSyntheticEvent,
		Apply: func(context.Context) (string, error) {
			variant, ok := pickWeighted(d.fleet.Random, syntheticVariants[name])
			if !ok {
				variant = "generic"
			}

			event := domain.ActivityEvent{
				Kind:      domain.EventKind(name + ":" + variant),
				Timestamp: d.fleet.Clock.Now(),
				Note:      "synthetic",
			}
			if d.sessions != nil {
				if session, ok := d.randomActiveSession(d.liveSessions()); ok {
					event.SessionID = session.ID
				}
			}
			if d.fleet.Ledger != nil {
				d.fleet.Ledger.Append(event)
			}

			level := d.fleet.Suspicion.Adjust(-d.opts.ImperfectionRelief)
			return fmt.Sprintf("%s recorded, level %d", event.Kind, level), nil
		},
	}
}

func (d *CountermeasureDispatcher) liveSessions() []domain.Session {
	sessions := d.sessions.List()
	live := sessions[:0]
	for _, session := range sessions {
		if session.State == domain.SessionActive || session.State == domain.SessionDegraded {
			live = append(live, session)
		}
	}
	return live
}

func (d *CountermeasureDispatcher) randomActiveSession(sessions []domain.Session) (domain.Session, bool) {
	return pickUniform(d.fleet.Random, sessions)
}

func (d *CountermeasureDispatcher) longestActiveSession(sessions []domain.Session) (domain.Session, bool) {
	now := d.fleet.Clock.Now()
	var best domain.Session
	found := false
	for _, session := range sessions {
		if !found || session.ActiveFor(now) > best.ActiveFor(now) {
			best = session
			found = true
		}
	}
	return best, found
}

func (d *CountermeasureDispatcher) uptimeWeightedSession(sessions []domain.Session) (domain.Session, bool) {
	now := d.fleet.Clock.Now()
	options := make([]Weighted[domain.Session], 0, len(sessions))
	for _, session := range sessions {
		options = append(options, Weighted[domain.Session]{Value: session, Weight: session.ActiveFor(now).Seconds() + 1})
	}
	return pickWeighted(d.fleet.Random, options)
}
