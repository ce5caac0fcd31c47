// Package config loads service configuration from askd.yaml via viper, with
// environment overrides and code defaults. Expansion vocabularies and routing
// signal lists live in separate yaml files watched for hot reload.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Response   ResponseConfig   `mapstructure:"response"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Search     SearchConfig     `mapstructure:"search"`
	Rerank     RerankConfig     `mapstructure:"rerank"`
	Confidence ConfidenceConfig `mapstructure:"confidence"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Generation GenerationConfig `mapstructure:"generation"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Corpus     CorpusConfig     `mapstructure:"corpus"`
	VectorDB   VectorDBConfig   `mapstructure:"vectordb"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Expansion  ExpansionConfig  `mapstructure:"expansion"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr"`     // Main API listener
	OpsAddr string `mapstructure:"ops_addr"` // Metrics + health listener ("" disables)
}

type EmbeddingConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Dim            int           `mapstructure:"dim"`
	Timeout        time.Duration `mapstructure:"timeout"`
	CacheMaxSize   int           `mapstructure:"cache_max_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl_seconds"`
	RedisCacheTTL  time.Duration `mapstructure:"redis_cache_ttl_seconds"`
}

type ResponseConfig struct {
	CacheMaxSize int           `mapstructure:"cache_max_size"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl_seconds"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown_seconds"`
}

type RateLimitConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window_seconds"`
}

type SearchConfig struct {
	TopKDefault     int     `mapstructure:"top_k_default"`
	KPoolMultiplier int     `mapstructure:"k_pool_multiplier"`
	DenseWeight     float64 `mapstructure:"dense_weight"`
	LexicalWeight   float64 `mapstructure:"lexical_weight"`
	RRFK            int     `mapstructure:"rrf_k"`
}

type RerankConfig struct {
	MaxPerDocument int      `mapstructure:"max_per_document"`
	CourseBoost    float64  `mapstructure:"course_boost"`
	FilenameBoost  float64  `mapstructure:"filename_boost"`
	MMREnabled     bool     `mapstructure:"mmr_enabled"`
	MMRLambda      float64  `mapstructure:"mmr_lambda"`
	CourseMarkers  []string `mapstructure:"course_markers"`
}

type ConfidenceConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

type RoutingConfig struct {
	Enabled      bool                `mapstructure:"enabled"`
	DefaultModel string              `mapstructure:"default_model"` // Used when routing is disabled
	Tiers        map[string][]string `mapstructure:"tiers"`         // tier -> provider fallback chain
	SignalsPath  string              `mapstructure:"signals_path"`
}

type GenerationConfig struct {
	Timeout   time.Duration             `mapstructure:"timeout"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

type ProviderConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	RPM         int     `mapstructure:"rpm"` // Requests per minute pacing, 0 = unpaced
}

type MemoryConfig struct {
	SQLitePath        string  `mapstructure:"sqlite_path"`
	DecayLambdaPerDay float64 `mapstructure:"decay_lambda_per_day"`
	TriggerThreshold  float64 `mapstructure:"trigger_threshold"`
	TopK              int     `mapstructure:"top_k"`
}

type CorpusConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

type VectorDBConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"` // "" disables the L2 embedding cache
}

type ExpansionConfig struct {
	VocabPath string `mapstructure:"vocab_path"`
}

// Load reads askd.yaml from CONFIG_PATH (default ./config/askd.yaml), applies
// env overrides prefixed MIXMENTOR_, and fills defaults.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/askd.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix("MIXMENTOR")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Missing file is tolerated; defaults and env carry the config
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(cfgPath); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	normalizeDurations(&c)

	if c.Embedding.Dim <= 0 {
		return nil, fmt.Errorf("embedding.dim is required and must be positive")
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.ops_addr", ":9090")

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dim", 1536)
	v.SetDefault("embedding.timeout", "5s")
	v.SetDefault("embedding.cache_max_size", 2048)
	v.SetDefault("embedding.cache_ttl_seconds", 3600)
	v.SetDefault("embedding.redis_cache_ttl_seconds", 86400)

	v.SetDefault("response.cache_max_size", 512)
	v.SetDefault("response.cache_ttl_seconds", 600)

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.cooldown_seconds", 30)

	v.SetDefault("rate_limit.max_requests", 30)
	v.SetDefault("rate_limit.window_seconds", 60)

	v.SetDefault("search.top_k_default", 5)
	v.SetDefault("search.k_pool_multiplier", 3)
	v.SetDefault("search.dense_weight", 0.7)
	v.SetDefault("search.lexical_weight", 0.3)
	v.SetDefault("search.rrf_k", 60)

	v.SetDefault("rerank.max_per_document", 1)
	v.SetDefault("rerank.course_boost", 1.25)
	v.SetDefault("rerank.filename_boost", 1.20)
	v.SetDefault("rerank.mmr_enabled", true)
	v.SetDefault("rerank.mmr_lambda", 0.7)
	v.SetDefault("rerank.course_markers", []string{"course", "masterclass"})

	v.SetDefault("confidence.threshold", 0.58)

	v.SetDefault("routing.enabled", true)
	v.SetDefault("routing.default_model", "standard")
	v.SetDefault("routing.tiers", map[string][]string{
		"factual":  {"fast", "local", "standard"},
		"creative": {"standard", "fast", "local"},
		"realtime": {"local", "fast", "standard"},
	})

	v.SetDefault("generation.timeout", "60s")

	v.SetDefault("memory.sqlite_path", "./data/memories.db")
	v.SetDefault("memory.decay_lambda_per_day", 0.1)
	v.SetDefault("memory.trigger_threshold", 0.35)
	v.SetDefault("memory.top_k", 5)

	v.SetDefault("corpus.postgres.host", "localhost")
	v.SetDefault("corpus.postgres.port", 5432)
	v.SetDefault("corpus.postgres.user", "mixmentor")
	v.SetDefault("corpus.postgres.database", "mixmentor")
	v.SetDefault("corpus.postgres.sslmode", "disable")

	v.SetDefault("vectordb.host", "localhost")
	v.SetDefault("vectordb.port", 6333)
	v.SetDefault("vectordb.collection", "knowledge_chunks")
	v.SetDefault("vectordb.timeout", "5s")
}

// normalizeDurations converts bare-number yaml values (seconds) into
// durations. Viper hands them over as nanosecond counts when unmarshalled
// into time.Duration, so anything shorter than a millisecond is a raw count.
func normalizeDurations(c *Config) {
	fix := func(d time.Duration) time.Duration {
		if d > 0 && d < time.Millisecond {
			return d * time.Second
		}
		return d
	}
	c.Embedding.CacheTTL = fix(c.Embedding.CacheTTL)
	c.Embedding.RedisCacheTTL = fix(c.Embedding.RedisCacheTTL)
	c.Response.CacheTTL = fix(c.Response.CacheTTL)
	c.Breaker.Cooldown = fix(c.Breaker.Cooldown)
	c.RateLimit.Window = fix(c.RateLimit.Window)
}
