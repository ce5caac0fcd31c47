// Package health aggregates dependency checks for the readiness and liveness
// endpoints. Critical checks gate readiness; non-critical failures only mark
// the service degraded, matching the pipeline's own failure semantics (the
// corpus is critical, memory and generation are not).
package health

import (
	"context"
	"time"
)

// CheckStatus is the outcome of one health check
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult carries one component's check outcome
type CheckResult struct {
	Component string        `json:"component"`
	Status    CheckStatus   `json:"-"`
	State     string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Critical  bool          `json:"critical"`
	Duration  time.Duration `json:"duration_ms"`
}

// Checker is one dependency probe
type Checker interface {
	// Name identifies the component in reports
	Name() string
	// Check probes the dependency; ctx carries the per-check timeout
	Check(ctx context.Context) error
	// IsCritical reports whether a failure should fail readiness
	IsCritical() bool
}

// Overall summarizes the whole service
type Overall struct {
	Status    string                 `json:"status"`
	Ready     bool                   `json:"ready"`
	Live      bool                   `json:"live"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}
