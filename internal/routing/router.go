// Package routing picks a model tier for a query and the ordered provider
// chain to walk. Signals are phrase lists loaded from yaml and hot-reloadable;
// chains come from static config.
package routing

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/config"
)

// Tier labels the cost/latency class of a query
type Tier string

const (
	TierFactual  Tier = "factual"
	TierCreative Tier = "creative"
	TierRealtime Tier = "realtime"
)

// Decision is the routing outcome for one query
type Decision struct {
	Tier       Tier
	Confidence float64  // n_matches / (n_matches + 1)
	Chain      []string // Provider identifiers, walked in order
}

// Signals is the on-disk signal file format
type Signals struct {
	Factual  []string `yaml:"factual"`
	Creative []string `yaml:"creative"`
	Realtime []string `yaml:"realtime"`
}

// DefaultSignals covers the common question shapes when no signal file is
// configured.
func DefaultSignals() Signals {
	return Signals{
		Factual:  []string{"what is", "define", "what key", "what bpm", "which", "how many"},
		Creative: []string{"suggest", "analyze", "improve", "based on my sessions", "ideas", "rework"},
		Realtime: []string{"right now", "currently", "while i'm playing", "live", "on stage"},
	}
}

// Router classifies queries and resolves fallback chains
type Router struct {
	cfg    config.RoutingConfig
	logger *zap.Logger

	mu      sync.RWMutex
	signals Signals
}

// New builds a router with the default signals. Use Reload to load a signal
// file, typically through a config.Watcher.
func New(cfg config.RoutingConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, signals: DefaultSignals()}
}

// Reload replaces the signal phrase lists. Satisfies config.ReloadFunc.
func (r *Router) Reload(data []byte) error {
	var s Signals
	if err := config.ParseYAML(data, &s); err != nil {
		return err
	}
	r.mu.Lock()
	r.signals = s
	r.mu.Unlock()
	r.logger.Info("Routing signals loaded",
		zap.Int("factual", len(s.Factual)),
		zap.Int("creative", len(s.Creative)),
		zap.Int("realtime", len(s.Realtime)),
	)
	return nil
}

// Route classifies query into a tier and returns the fallback chain. The tier
// with the most phrase matches wins; zero matches default to factual. With
// routing disabled, every query pins the configured default model.
func (r *Router) Route(query string) Decision {
	if !r.cfg.Enabled {
		return Decision{
			Tier:       TierFactual,
			Confidence: 0,
			Chain:      []string{r.cfg.DefaultModel},
		}
	}

	lower := strings.ToLower(query)

	r.mu.RLock()
	counts := map[Tier]int{
		TierFactual:  countMatches(lower, r.signals.Factual),
		TierCreative: countMatches(lower, r.signals.Creative),
		TierRealtime: countMatches(lower, r.signals.Realtime),
	}
	r.mu.RUnlock()

	tier := TierFactual
	best := 0
	// Fixed evaluation order keeps ties deterministic
	for _, t := range []Tier{TierFactual, TierCreative, TierRealtime} {
		if counts[t] > best {
			tier = t
			best = counts[t]
		}
	}

	return Decision{
		Tier:       tier,
		Confidence: float64(best) / float64(best+1),
		Chain:      r.chainFor(tier),
	}
}

func (r *Router) chainFor(tier Tier) []string {
	if chain, ok := r.cfg.Tiers[string(tier)]; ok && len(chain) > 0 {
		return chain
	}
	// A tier without a configured chain falls back to the factual chain,
	// then to the default model
	if chain, ok := r.cfg.Tiers[string(TierFactual)]; ok && len(chain) > 0 {
		return chain
	}
	return []string{r.cfg.DefaultModel}
}

func countMatches(query string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if p != "" && strings.Contains(query, strings.ToLower(p)) {
			n++
		}
	}
	return n
}
