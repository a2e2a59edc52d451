package sim

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/bnema/rotor/internal/application"
	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

var workloadKinds = []domain.EventKind{"mine", "place", "move", "look", "craft", "chat", "attack"}

// Fleet is what the workload drives: it reads the live sessions and performs
// actions on them.
type Fleet interface {
	Status() application.FleetStatus
	Perform(ctx context.Context, id domain.SessionID, kind domain.EventKind, attributes map[string]float64) (int, error)
}

// Workload performs one random action on a random active session per
// interval, standing in for the bots' own game logic.
type Workload struct {
	fleet    Fleet
	random   ports.Random
	interval time.Duration
	// sloppyRate is the chance an action carries inhumanly precise timing.
	sloppyRate float64
	logger     *zap.Logger
}

func NewWorkload(fleet Fleet, random ports.Random, interval time.Duration, logger *zap.Logger) *Workload {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workload{
		fleet:      fleet,
		random:     random,
		interval:   interval,
		sloppyRate: 0.05,
		logger:     logger.Named("workload"),
	}
}

// Run returns nil when ctx is canceled. A non-positive interval disables the
// workload.
func (w *Workload) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.Step(ctx)
		}
	}
}

// Step performs a single action and reports whether one was attempted.
func (w *Workload) Step(ctx context.Context) bool {
	active := make([]domain.SessionID, 0)
	for _, session := range w.fleet.Status().Sessions {
		if session.State == domain.SessionActive.String() {
			active = append(active, domain.SessionID(session.ID))
		}
	}
	if len(active) == 0 {
		return false
	}

	id := active[w.random.Intn(len(active))]
	kind := workloadKinds[w.random.Intn(len(workloadKinds))]
	attributes := w.attributes()

	risk, err := w.fleet.Perform(ctx, id, kind, attributes)
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return true
	case err != nil:
		w.logger.Debug("action failed", zap.String("session", string(id)), zap.String("kind", string(kind)), zap.Error(err))
	case risk > 0:
		w.logger.Debug("risky action", zap.String("session", string(id)), zap.String("kind", string(kind)), zap.Int("risk", risk))
	}
	return true
}

func (w *Workload) attributes() map[string]float64 {
	if w.random.Float64() < w.sloppyRate {
		return map[string]float64{
			domain.AttrPrecision:      0.97 + 0.03*w.random.Float64(),
			domain.AttrReactionTimeMs: 40 + 40*w.random.Float64(),
		}
	}
	return map[string]float64{
		domain.AttrPrecision:      0.4 + 0.5*w.random.Float64(),
		domain.AttrReactionTimeMs: 180 + 600*w.random.Float64(),
	}
}
