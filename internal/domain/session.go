package domain

import (
	"fmt"
	"time"
)

type SessionID string

type SessionState int

const (
	SessionConnecting SessionState = iota
	SessionActive
	SessionDegraded
	SessionReconnecting
	SessionTerminated
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	case SessionDegraded:
		return "degraded"
	case SessionReconnecting:
		return "reconnecting"
	case SessionTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

func ParseSessionState(raw string) (SessionState, error) {
	for s := SessionConnecting; s <= SessionTerminated; s++ {
		if s.String() == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown session state %q", raw)
}

// Live reports whether the session still counts toward the fleet size.
func (s SessionState) Live() bool {
	return s != SessionTerminated
}

// Session is one bot identity. The assigned resource ids are references into
// their pools; they are empty whenever the session holds no checkout.
type Session struct {
	ID                  SessionID
	Role                Role
	AssignedAccount     ResourceID
	AssignedRoute       ResourceID
	AssignedFingerprint ResourceID
	State               SessionState
	ReconnectAttempts   int
	OpenedAt            time.Time
	ActiveSince         time.Time
	LastActivityAt      time.Time
}

func (s Session) HoldsResources() bool {
	return s.AssignedAccount != "" || s.AssignedRoute != "" || s.AssignedFingerprint != ""
}

// ActiveFor returns how long the session has been continuously Active (or
// Degraded, which keeps the connection) at now.
func (s Session) ActiveFor(now time.Time) time.Duration {
	if s.ActiveSince.IsZero() {
		return 0
	}
	if s.State != SessionActive && s.State != SessionDegraded {
		return 0
	}
	return now.Sub(s.ActiveSince)
}

type TerminationReason string

const (
	TerminationExplicitStop TerminationReason = "explicit_stop"
	TerminationMaxAttempts  TerminationReason = "max_attempts"
	TerminationShutdown     TerminationReason = "shutdown"
)

// SessionTermination is delivered to the orchestrator whenever a session
// reaches Terminated.
type SessionTermination struct {
	SessionID SessionID
	Role      Role
	Reason    TerminationReason
	Attempts  int
	At        time.Time
}
