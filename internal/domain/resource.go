package domain

import (
	"fmt"
	"time"
)

type ResourceID string
type ResourceKind string

const (
	ResourceKindAccount     ResourceKind = "account"
	ResourceKindRoute       ResourceKind = "route"
	ResourceKindFingerprint ResourceKind = "fingerprint"
)

func (k ResourceKind) Valid() bool {
	switch k {
	case ResourceKindAccount, ResourceKindRoute, ResourceKindFingerprint:
		return true
	default:
		return false
	}
}

func ParseResourceKind(raw string) (ResourceKind, error) {
	kind := ResourceKind(raw)
	if !kind.Valid() {
		return "", fmt.Errorf("unsupported resource kind %q", raw)
	}
	return kind, nil
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// Resource is one reusable identity facet. Attributes are fixed at creation;
// only the scoring fields change as the resource is used.
type Resource[T any] struct {
	ID            ResourceID
	Attributes    T
	SuccessRate   float64
	LastUsedAt    time.Time
	FailureStreak int
}

// NeverUsed reports whether the resource has no recorded use since creation
// or the last rotation.
func (r Resource[T]) NeverUsed() bool {
	return r.LastUsedAt.IsZero()
}

func ClampRate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
