package circuitbreaker

import (
	"os"
	"strconv"
	"time"
)

// BreakerConfig represents tunable configuration for one breaker class
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Cooldown         time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
}

// GetEmbeddingConfig returns the embedding provider breaker configuration
func GetEmbeddingConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      getEnvUint32("CB_EMBEDDING_MAX_REQUESTS", 1),
		Interval:         getEnvDuration("CB_EMBEDDING_INTERVAL", 60*time.Second),
		Cooldown:         getEnvDuration("CB_EMBEDDING_COOLDOWN", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_EMBEDDING_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_EMBEDDING_SUCCESS_THRESHOLD", 1),
	}
}

// GetGenerationConfig returns the per-provider generation breaker configuration
func GetGenerationConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      getEnvUint32("CB_GENERATION_MAX_REQUESTS", 1),
		Interval:         getEnvDuration("CB_GENERATION_INTERVAL", 60*time.Second),
		Cooldown:         getEnvDuration("CB_GENERATION_COOLDOWN", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_GENERATION_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_GENERATION_SUCCESS_THRESHOLD", 1),
	}
}

// GetRedisConfig returns the Redis breaker configuration
func GetRedisConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      getEnvUint32("CB_REDIS_MAX_REQUESTS", 5),
		Interval:         getEnvDuration("CB_REDIS_INTERVAL", 30*time.Second),
		Cooldown:         getEnvDuration("CB_REDIS_COOLDOWN", 15*time.Second),
		FailureThreshold: getEnvUint32("CB_REDIS_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_REDIS_SUCCESS_THRESHOLD", 2),
	}
}

// GetDatabaseConfig returns the corpus database breaker configuration
func GetDatabaseConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      getEnvUint32("CB_DB_MAX_REQUESTS", 3),
		Interval:         getEnvDuration("CB_DB_INTERVAL", 60*time.Second),
		Cooldown:         getEnvDuration("CB_DB_COOLDOWN", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_DB_FAILURE_THRESHOLD", 5),
		SuccessThreshold: getEnvUint32("CB_DB_SUCCESS_THRESHOLD", 2),
	}
}

// GetHTTPConfig returns the generic HTTP breaker configuration (vector store)
func GetHTTPConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      getEnvUint32("CB_HTTP_MAX_REQUESTS", 1),
		Interval:         getEnvDuration("CB_HTTP_INTERVAL", 30*time.Second),
		Cooldown:         getEnvDuration("CB_HTTP_COOLDOWN", 30*time.Second),
		FailureThreshold: getEnvUint32("CB_HTTP_FAILURE_THRESHOLD", 3),
		SuccessThreshold: getEnvUint32("CB_HTTP_SUCCESS_THRESHOLD", 1),
	}
}

// ToConfig converts BreakerConfig to a breaker Config
func (bc BreakerConfig) ToConfig() Config {
	return Config{
		MaxRequests:      bc.MaxRequests,
		Interval:         bc.Interval,
		Cooldown:         bc.Cooldown,
		FailureThreshold: bc.FailureThreshold,
		SuccessThreshold: bc.SuccessThreshold,
		OnStateChange:    nil, // Set by the wrapper
	}
}

func getEnvUint32(key string, defaultValue uint32) uint32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseUint(val, 10, 32); err == nil {
			return uint32(parsed)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultValue
}
