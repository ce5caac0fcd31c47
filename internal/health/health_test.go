package health

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(ctx context.Context) error { return s.err }

type stubProvider struct {
	id        string
	available bool
}

func (s stubProvider) ID() string      { return s.id }
func (s stubProvider) Available() bool { return s.available }

func TestOverallHealthy(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.Register(NewPingChecker("corpus", stubPinger{}, true))
	m.Register(NewPingChecker("memory", stubPinger{}, false))

	overall := m.Overall(context.Background())
	if overall.Status != "healthy" || !overall.Ready || !overall.Live {
		t.Fatalf("Expected healthy/ready/live, got %+v", overall)
	}
	if len(overall.Checks) != 2 {
		t.Errorf("Expected 2 checks, got %d", len(overall.Checks))
	}
}

func TestCriticalFailureFailsReadiness(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.Register(NewPingChecker("corpus", stubPinger{err: errors.New("connection refused")}, true))
	m.Register(NewPingChecker("memory", stubPinger{}, false))

	overall := m.Overall(context.Background())
	if overall.Status != "unhealthy" {
		t.Errorf("Expected unhealthy, got %s", overall.Status)
	}
	if overall.Ready {
		t.Error("Critical failure must fail readiness")
	}
	if !overall.Live {
		t.Error("Liveness is independent of dependency health")
	}
	if overall.Checks["corpus"].Error == "" {
		t.Error("Failing check must carry its error")
	}
}

func TestNonCriticalFailureOnlyDegrades(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	m.Register(NewPingChecker("corpus", stubPinger{}, true))
	m.Register(NewPingChecker("memory", stubPinger{err: errors.New("locked")}, false))

	overall := m.Overall(context.Background())
	if overall.Status != "degraded" {
		t.Errorf("Expected degraded, got %s", overall.Status)
	}
	if !overall.Ready {
		t.Error("Non-critical failure must not fail readiness")
	}
}

func TestGenerationCheckerNeedsOneClosedBreaker(t *testing.T) {
	c := NewGenerationChecker([]Availability{
		stubProvider{id: "fast", available: false},
		stubProvider{id: "local", available: true},
	})
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("One closed breaker should pass, got %v", err)
	}

	allOpen := NewGenerationChecker([]Availability{
		stubProvider{id: "fast", available: false},
		stubProvider{id: "local", available: false},
	})
	if err := allOpen.Check(context.Background()); err == nil {
		t.Error("All breakers open must fail the check")
	}

	empty := NewGenerationChecker(nil)
	if err := empty.Check(context.Background()); err == nil {
		t.Error("No providers must fail the check")
	}
}
