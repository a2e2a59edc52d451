package domain

import (
	"sort"
	"time"
)

const MaxSuspicionLevel = 100

type RiskFactor string

const (
	RiskVolume     RiskFactor = "volume"
	RiskRepetition RiskFactor = "repetition"
	RiskUnrealism  RiskFactor = "unrealism"
)

// SuspicionState is the fleet-wide detection risk estimate.
type SuspicionState struct {
	Level                 int
	ActiveCountermeasures map[string]struct{}
	LastAssessedAt        time.Time
}

func ClampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxSuspicionLevel {
		return MaxSuspicionLevel
	}
	return level
}

func (s SuspicionState) Countermeasures() []string {
	names := make([]string, 0, len(s.ActiveCountermeasures))
	for name := range s.ActiveCountermeasures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
