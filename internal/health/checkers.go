package health

import (
	"context"
	"fmt"
)

// Pinger is anything with a context-aware ping, which covers the corpus
// store, the vector index, and the memory store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker probes a Pinger-shaped dependency
type PingChecker struct {
	name     string
	target   Pinger
	critical bool
}

// NewPingChecker wraps a dependency that exposes Ping.
func NewPingChecker(name string, target Pinger, critical bool) *PingChecker {
	return &PingChecker{name: name, target: target, critical: critical}
}

func (c *PingChecker) Name() string     { return c.name }
func (c *PingChecker) IsCritical() bool { return c.critical }

func (c *PingChecker) Check(ctx context.Context) error {
	return c.target.Ping(ctx)
}

// FuncChecker adapts a closure into a Checker
type FuncChecker struct {
	name     string
	critical bool
	fn       func(ctx context.Context) error
}

// NewFuncChecker builds a checker from a probe function.
func NewFuncChecker(name string, critical bool, fn func(ctx context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, fn: fn}
}

func (c *FuncChecker) Name() string     { return c.name }
func (c *FuncChecker) IsCritical() bool { return c.critical }

func (c *FuncChecker) Check(ctx context.Context) error {
	return c.fn(ctx)
}

// Availability is the per-provider breaker view
type Availability interface {
	ID() string
	Available() bool
}

// GenerationChecker reports unhealthy only when every provider's breaker is
// open. A single closed provider keeps the check passing because the
// fallback chain can still answer.
type GenerationChecker struct {
	providers []Availability
}

// NewGenerationChecker builds the checker over the registered providers.
func NewGenerationChecker(providers []Availability) *GenerationChecker {
	return &GenerationChecker{providers: providers}
}

func (c *GenerationChecker) Name() string     { return "generation" }
func (c *GenerationChecker) IsCritical() bool { return false }

func (c *GenerationChecker) Check(ctx context.Context) error {
	if len(c.providers) == 0 {
		return fmt.Errorf("no generation providers registered")
	}
	open := 0
	for _, p := range c.providers {
		if !p.Available() {
			open++
		}
	}
	if open == len(c.providers) {
		return fmt.Errorf("all %d provider breakers open", open)
	}
	return nil
}
