package sim

import (
	"context"
	"fmt"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

// Executor performs actions against simulated handles. It only records them.
type Executor struct{}

var _ ports.ActionExecutor = Executor{}

func (Executor) Execute(ctx context.Context, handle ports.SessionHandle, kind domain.EventKind, _ map[string]float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h, ok := handle.(*Handle)
	if !ok {
		return fmt.Errorf("execute %s: handle %T is not simulated", kind, handle)
	}
	if h.isDown() {
		return fmt.Errorf("execute %s on %s: %w", kind, h.sessionID, ErrHandleClosed)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.actions == nil {
		h.actions = make(map[domain.EventKind]int)
	}
	h.actions[kind]++
	return nil
}
