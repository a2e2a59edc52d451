package application

import (
	"time"

	"github.com/bnema/rotor/internal/domain"
)

type SessionStatus struct {
	ID                string    `json:"id"`
	Role              string    `json:"role"`
	State             string    `json:"state"`
	Account           string    `json:"account,omitempty"`
	Route             string    `json:"route,omitempty"`
	Fingerprint       string    `json:"fingerprint,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	OpenedAt          time.Time `json:"opened_at"`
	ActiveSince       time.Time `json:"active_since,omitempty"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// FleetStatus is the read-only view exposed to monitoring.
type FleetStatus struct {
	TakenAt               time.Time          `json:"taken_at"`
	SuspicionLevel        int                `json:"suspicion_level"`
	ActiveCountermeasures []string           `json:"active_countermeasures"`
	LastAssessedAt        time.Time          `json:"last_assessed_at"`
	TargetSessions        int                `json:"target_sessions"`
	SessionsByState       map[string]int     `json:"sessions_by_state"`
	Sessions              []SessionStatus    `json:"sessions"`
	Pools                 []PoolStats        `json:"pools"`
	Ledger                domain.LedgerStats `json:"ledger"`
	Countermeasures       []string           `json:"countermeasures"`
	Terminated            int64              `json:"terminated"`
	HandshakeFailures     int64              `json:"handshake_failures"`
	PoolExhaustions       int64              `json:"pool_exhaustions"`
	PersistenceFailures   int64              `json:"persistence_failures"`
	DroppedSnapshots      int64              `json:"dropped_snapshots"`
	FleetBackoffUntil     time.Time          `json:"fleet_backoff_until,omitempty"`
}

// Degraded counts sessions that are live but not fully connected.
func (s FleetStatus) Degraded() int {
	return s.SessionsByState[domain.SessionDegraded.String()] + s.SessionsByState[domain.SessionReconnecting.String()]
}

func (o *Orchestrator) Status() FleetStatus {
	suspicion := o.fleet.Suspicion.Snapshot()

	status := FleetStatus{
		TakenAt:               o.fleet.Clock.Now(),
		SuspicionLevel:        suspicion.Level,
		ActiveCountermeasures: suspicion.Countermeasures(),
		LastAssessedAt:        suspicion.LastAssessedAt,
		TargetSessions:        o.opts.Sessions,
		SessionsByState:       make(map[string]int),
		Pools:                 PoolsStats(o.fleet),
		Ledger:                o.fleet.Ledger.Stats(),
		Terminated:            o.lifecycle.TerminatedTotal(),
		HandshakeFailures:     o.lifecycle.HandshakeFailures(),
		PoolExhaustions:       o.lifecycle.PoolExhaustions(),
		PersistenceFailures:   o.fleet.Ledger.PersistFailures(),
		DroppedSnapshots:      o.fleet.Ledger.DroppedSnapshots(),
		FleetBackoffUntil:     o.BackoffUntil(),
	}
	if o.dispatcher != nil {
		status.Countermeasures = o.dispatcher.Names()
	}

	for state, count := range o.lifecycle.Counts() {
		if state.Live() {
			status.SessionsByState[state.String()] = count
		}
	}
	for _, session := range o.lifecycle.List() {
		status.Sessions = append(status.Sessions, SessionStatus{
			ID:                string(session.ID),
			Role:              string(session.Role),
			State:             session.State.String(),
			Account:           string(session.AssignedAccount),
			Route:             string(session.AssignedRoute),
			Fingerprint:       string(session.AssignedFingerprint),
			ReconnectAttempts: session.ReconnectAttempts,
			OpenedAt:          session.OpenedAt,
			ActiveSince:       session.ActiveSince,
			LastActivityAt:    session.LastActivityAt,
		})
	}

	return status
}

// PoolsStats returns account, route and fingerprint stats in that order.
// Route stats also count members by class and by country.
func PoolsStats(fleet *Fleet) []PoolStats {
	routes := fleet.Routes.Stats()
	routes.ByClass = make(map[string]int)
	routes.ByCountry = make(map[string]int)
	for _, route := range fleet.Routes.Snapshot() {
		routes.ByClass[string(route.Attributes.Class)]++
		routes.ByCountry[route.Attributes.Country]++
	}

	return []PoolStats{fleet.Accounts.Stats(), routes, fleet.Fingerprints.Stats()}
}
