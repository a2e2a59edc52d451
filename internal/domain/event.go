package domain

import "time"

type EventKind string

const (
	EventSpawned         EventKind = "spawned"
	EventDisconnected    EventKind = "disconnected"
	EventError           EventKind = "error"
	EventHandshakeFailed EventKind = "handshake_failed"
	EventPoolExhausted   EventKind = "pool_exhausted"
	EventTerminated      EventKind = "terminated"
	EventCountermeasure  EventKind = "apply_countermeasure"
)

// Attribute names understood by the per-action scoring.
const (
	AttrPrecision        = "precision"
	AttrReactionTimeMs   = "reaction_time_ms"
	AttrTimingIntervalMs = "timing_interval_ms"
	AttrTimingAverageMs  = "timing_average_ms"
	AttrTimingRegularity = "timing_regularity"
)

// ActivityEvent is immutable once appended to the ledger.
type ActivityEvent struct {
	SessionID  SessionID          `json:"session_id,omitempty"`
	Kind       EventKind          `json:"kind"`
	Timestamp  time.Time          `json:"timestamp"`
	Attributes map[string]float64 `json:"attributes,omitempty"`
	Note       string             `json:"note,omitempty"`
}

func (e ActivityEvent) Attr(name string) (float64, bool) {
	if e.Attributes == nil {
		return 0, false
	}
	v, ok := e.Attributes[name]
	return v, ok
}

type KindCount struct {
	Kind  EventKind `json:"kind"`
	Count int       `json:"count"`
}

type LedgerStats struct {
	Size        int         `json:"size"`
	Appended    uint64      `json:"appended"`
	UniqueKinds int         `json:"unique_kinds"`
	TopKinds    []KindCount `json:"top_kinds"`
}

// LedgerSnapshot is what gets persisted on each flush: the recent tail plus
// lifetime aggregate counts.
type LedgerSnapshot struct {
	TakenAt        time.Time         `json:"taken_at"`
	Appended       uint64            `json:"appended"`
	Size           int               `json:"size"`
	SuspicionLevel int               `json:"suspicion_level"`
	Counts         map[EventKind]int `json:"counts"`
	Recent         []ActivityEvent   `json:"recent"`
}
