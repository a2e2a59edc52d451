package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var poolAcquisitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rotor_pool_acquisitions_total",
	Help: "Resource checkouts by pool kind and result",
}, []string{"kind", "result"})

var poolReleases = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rotor_pool_releases_total",
	Help: "Scored resource releases by pool kind and outcome",
}, []string{"kind", "outcome"})

var poolRotations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rotor_pool_rotations_total",
	Help: "Pool rotations that reordered the pool",
}, []string{"kind"})

var suspicionLevelGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "rotor_suspicion_level",
	Help: "Current fleet suspicion level (0-100)",
})

var countermeasuresApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rotor_countermeasures_total",
	Help: "Countermeasure applications by name and result",
}, []string{"name", "result"})

var sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rotor_session_transitions_total",
	Help: "Session state transitions by target state",
}, []string{"state"})

var reconnectDelay = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "rotor_reconnect_delay_seconds",
	Help:    "Backoff delay scheduled before a reconnect attempt",
	Buckets: prometheus.ExponentialBuckets(1, 2, 10),
})

var ledgerAppends = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rotor_ledger_appends_total",
	Help: "Activity events appended to the ledger",
})

var ledgerFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rotor_ledger_flushes_total",
	Help: "Ledger snapshot flushes by result",
}, []string{"result"})

var sessionTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rotor_session_terminations_total",
	Help: "Sessions that reached Terminated, by reason",
}, []string{"reason"})

var fleetBackoffs = promauto.NewCounter(prometheus.CounterOpts{
	Name: "rotor_fleet_backoffs_total",
	Help: "Fleet-wide backoffs started after pool exhaustion",
})
