package ports

import (
	"context"
	"time"

	"github.com/bnema/rotor/internal/domain"
)

type LifecycleEventKind string

const (
	LifecycleSpawned      LifecycleEventKind = "spawned"
	LifecycleDisconnected LifecycleEventKind = "disconnected"
	LifecycleError        LifecycleEventKind = "error"
)

type LifecycleEvent struct {
	Kind   LifecycleEventKind
	Detail string
	At     time.Time
}

type ConnectRequest struct {
	SessionID   domain.SessionID
	Role        domain.Role
	Account     domain.Resource[domain.AccountAttributes]
	Route       domain.Resource[domain.RouteAttributes]
	Fingerprint domain.Resource[domain.FingerprintAttributes]
	// Credential is the resolved account secret, empty when no secret store is wired.
	Credential string
}

// SessionDriver is the game-client boundary. Connect returns once the
// handshake has completed or failed; ctx carries the handshake timeout.
type SessionDriver interface {
	Connect(ctx context.Context, req ConnectRequest) (SessionHandle, error)
}

// SessionHandle is one live connection. Events is closed by the driver after
// Close or after the final disconnected event.
type SessionHandle interface {
	Events() <-chan LifecycleEvent
	Ping(ctx context.Context) error
	Close() error
}

type ActionExecutor interface {
	Execute(ctx context.Context, handle SessionHandle, kind domain.EventKind, attributes map[string]float64) error
}
