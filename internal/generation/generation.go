// Package generation abstracts the LLM providers the orchestrator walks. Each
// provider wraps its remote call with its own circuit breaker and client-side
// request pacing; breaker-open surfaces as ErrUnavailable without a remote
// call so fallback chains are cheap to walk.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnavailable reports a provider that cannot serve right now, whether from
// a transport failure or an open breaker. The orchestrator advances the
// fallback chain on it.
var ErrUnavailable = errors.New("generation provider unavailable")

// ErrUnknownProvider reports a chain entry with no registered provider.
var ErrUnknownProvider = errors.New("unknown generation provider")

// Request is one generation call
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Usage reports what a generation cost
type Usage struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// Response is a completed generation
type Response struct {
	Text  string
	Usage Usage
}

// Generator produces a full response in one call
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// StreamingGenerator additionally streams text deltas as they arrive. onDelta
// is called once per delta; returning an error aborts the stream. The final
// Response carries the full text and usage.
type StreamingGenerator interface {
	Generator
	GenerateStream(ctx context.Context, req Request, onDelta func(delta string) error) (Response, error)
}

// Provider is a registered generation backend
type Provider interface {
	StreamingGenerator
	ID() string
	// Available reports whether a dispatch would be attempted (breaker not open).
	Available() bool
}

// Registry holds providers by identifier
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its identifier, replacing any previous one.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	r.providers[p.ID()] = p
	r.mu.Unlock()
}

// Get returns the provider for id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// IDs lists registered provider identifiers.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	return out
}
