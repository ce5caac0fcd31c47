package routing

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mixmentor/mixmentor/internal/config"
)

func testRoutingCfg() config.RoutingConfig {
	return config.RoutingConfig{
		Enabled:      true,
		DefaultModel: "standard",
		Tiers: map[string][]string{
			"factual":  {"fast", "local", "standard"},
			"creative": {"standard", "fast", "local"},
			"realtime": {"local", "fast", "standard"},
		},
	}
}

func TestRouteClassifiesTiers(t *testing.T) {
	r := New(testRoutingCfg(), zaptest.NewLogger(t))

	cases := []struct {
		query string
		want  Tier
	}{
		{"what is sidechain compression", TierFactual},
		{"suggest ways to improve my chorus", TierCreative},
		{"what should I tweak right now while I'm playing", TierRealtime},
		{"tell me about reverb", TierFactual}, // no signals, default
	}
	for _, tc := range cases {
		got := r.Route(tc.query)
		if got.Tier != tc.want {
			t.Errorf("Route(%q) = %s, want %s", tc.query, got.Tier, tc.want)
		}
	}
}

func TestRouteConfidence(t *testing.T) {
	r := New(testRoutingCfg(), zaptest.NewLogger(t))

	// Two creative matches: 2/3
	d := r.Route("suggest how to improve the bridge")
	if d.Tier != TierCreative {
		t.Fatalf("Expected creative, got %s", d.Tier)
	}
	if d.Confidence < 0.66 || d.Confidence > 0.67 {
		t.Errorf("Expected confidence 2/3, got %f", d.Confidence)
	}

	// Zero matches: 0/1
	d = r.Route("hello")
	if d.Confidence != 0 {
		t.Errorf("Expected zero confidence for default route, got %f", d.Confidence)
	}
}

func TestRouteFallbackChains(t *testing.T) {
	r := New(testRoutingCfg(), zaptest.NewLogger(t))

	d := r.Route("what bpm is this")
	want := []string{"fast", "local", "standard"}
	if len(d.Chain) != 3 {
		t.Fatalf("Expected 3-provider chain, got %v", d.Chain)
	}
	for i := range want {
		if d.Chain[i] != want[i] {
			t.Errorf("Chain[%d] = %s, want %s", i, d.Chain[i], want[i])
		}
	}

	if got := r.Route("what should I play live on stage right now").Chain[0]; got != "local" {
		t.Errorf("Realtime chain must start local, got %s", got)
	}
}

func TestRouteDisabledPinsDefaultModel(t *testing.T) {
	cfg := testRoutingCfg()
	cfg.Enabled = false
	r := New(cfg, zaptest.NewLogger(t))

	d := r.Route("suggest something creative right now")
	if len(d.Chain) != 1 || d.Chain[0] != "standard" {
		t.Errorf("Expected pinned default model, got %v", d.Chain)
	}
}

func TestReloadSwapsSignals(t *testing.T) {
	r := New(testRoutingCfg(), zaptest.NewLogger(t))

	err := r.Reload([]byte("creative:\n  - banana\n"))
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if d := r.Route("banana"); d.Tier != TierCreative {
		t.Errorf("Expected reloaded signal to classify creative, got %s", d.Tier)
	}
	// Old factual signals are gone
	if d := r.Route("what is a compressor"); d.Tier != TierFactual || d.Confidence != 0 {
		t.Errorf("Expected default factual with zero confidence, got %+v", d)
	}
}
