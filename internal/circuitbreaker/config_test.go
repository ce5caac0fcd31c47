package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreakerClassDefaults(t *testing.T) {
	cases := []struct {
		name             string
		cfg              BreakerConfig
		failureThreshold uint32
		cooldown         time.Duration
	}{
		{"embedding", GetEmbeddingConfig(), 3, 30 * time.Second},
		{"generation", GetGenerationConfig(), 3, 30 * time.Second},
		{"http", GetHTTPConfig(), 3, 30 * time.Second},
		{"redis", GetRedisConfig(), 3, 15 * time.Second},
		{"database", GetDatabaseConfig(), 5, 30 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.cfg.FailureThreshold != tc.failureThreshold {
				t.Errorf("Expected failure threshold %d, got %d", tc.failureThreshold, tc.cfg.FailureThreshold)
			}
			if tc.cfg.Cooldown != tc.cooldown {
				t.Errorf("Expected cooldown %s, got %s", tc.cooldown, tc.cfg.Cooldown)
			}
		})
	}
}

func TestBreakerClassEnvOverride(t *testing.T) {
	t.Setenv("CB_EMBEDDING_FAILURE_THRESHOLD", "7")
	t.Setenv("CB_EMBEDDING_COOLDOWN", "90s")
	t.Setenv("CB_GENERATION_MAX_REQUESTS", "4")

	if got := GetEmbeddingConfig().FailureThreshold; got != 7 {
		t.Errorf("Expected threshold 7 from env, got %d", got)
	}
	if got := GetEmbeddingConfig().Cooldown; got != 90*time.Second {
		t.Errorf("Expected 90s cooldown from env, got %s", got)
	}
	if got := GetGenerationConfig().MaxRequests; got != 4 {
		t.Errorf("Expected 4 half-open requests from env, got %d", got)
	}
}

func TestToConfigCarriesEveryField(t *testing.T) {
	bc := BreakerConfig{
		MaxRequests:      2,
		Interval:         45 * time.Second,
		Cooldown:         20 * time.Second,
		FailureThreshold: 4,
		SuccessThreshold: 3,
	}
	cfg := bc.ToConfig()
	if cfg.MaxRequests != 2 || cfg.Interval != 45*time.Second || cfg.Cooldown != 20*time.Second ||
		cfg.FailureThreshold != 4 || cfg.SuccessThreshold != 3 {
		t.Errorf("ToConfig dropped a field: %+v", cfg)
	}
}
