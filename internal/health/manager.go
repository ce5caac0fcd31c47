package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const checkTimeout = 5 * time.Second

// Manager runs the registered checks and derives the overall status
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *zap.Logger
}

// NewManager creates an empty health manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{checkers: make(map[string]Checker), logger: logger}
}

// Register adds a checker, replacing any previous one with the same name.
func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	m.checkers[c.Name()] = c
	m.mu.Unlock()
}

// Run executes every check in parallel under a per-check timeout.
func (m *Manager) Run(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var wg sync.WaitGroup
	var resMu sync.Mutex
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := c.Check(checkCtx)
			r := CheckResult{
				Component: c.Name(),
				Critical:  c.IsCritical(),
				Duration:  time.Since(start) / time.Millisecond,
			}
			if err != nil {
				r.Status = StatusUnhealthy
				r.Error = err.Error()
				m.logger.Warn("Health check failed",
					zap.String("component", c.Name()), zap.Error(err))
			} else {
				r.Status = StatusHealthy
			}
			r.State = r.Status.String()

			resMu.Lock()
			results[c.Name()] = r
			resMu.Unlock()
		}(c)
	}
	wg.Wait()
	return results
}

// Overall runs the checks and folds them into one status. A failing critical
// check makes the service unhealthy and not ready; failing non-critical
// checks only degrade it.
func (m *Manager) Overall(ctx context.Context) Overall {
	checks := m.Run(ctx)

	criticalFailures, otherFailures := 0, 0
	for _, r := range checks {
		if r.Status != StatusUnhealthy {
			continue
		}
		if r.Critical {
			criticalFailures++
		} else {
			otherFailures++
		}
	}

	status := StatusHealthy
	ready := true
	switch {
	case criticalFailures > 0:
		status = StatusUnhealthy
		ready = false
	case otherFailures > 0:
		status = StatusDegraded
	}

	return Overall{
		Status:    status.String(),
		Ready:     ready,
		Live:      true,
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}
}

// IsReady reports whether every critical check passes.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Overall(ctx).Ready
}
