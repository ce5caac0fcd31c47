// Package embeddings turns text into unit-length vectors via an external
// embedding service, with a two-level cache (in-process LRU, optional Redis)
// keyed by a content fingerprint and a circuit breaker on the HTTP path.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mixmentor/mixmentor/internal/cache"
	"github.com/mixmentor/mixmentor/internal/circuitbreaker"
	"github.com/mixmentor/mixmentor/internal/config"
	"github.com/mixmentor/mixmentor/internal/metrics"
)

// ErrEmbeddingUnavailable reports that the embedding service could not be
// reached, including breaker-open fast failures.
var ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

// DimensionMismatchError reports a vector whose length disagrees with the
// configured dimensionality.
type DimensionMismatchError struct {
	Want, Got int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: want %d, got %d", e.Want, e.Got)
}

// Embedder is the retrieval pipeline's view of this package
type Embedder interface {
	// EmbedOne embeds a single text through the cache.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	// EmbedMany embeds a batch directly, bypassing the cache.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Client implements Embedder against an OpenAI-compatible /embeddings endpoint
type Client struct {
	cfg    config.EmbeddingConfig
	http   *circuitbreaker.HTTPWrapper
	logger *zap.Logger

	l1     *cache.Cache[[]float32]
	l2     *circuitbreaker.RedisWrapper // nil when Redis is not configured
	flight singleflight.Group
}

// NewClient builds an embedding client. redisWrapper may be nil.
func NewClient(cfg config.EmbeddingConfig, breakerCfg circuitbreaker.Config, redisWrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout <= 0 {
		httpClient.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   circuitbreaker.NewHTTPWrapperWithConfig(httpClient, "embedding", "embedding-service", breakerCfg, logger),
		logger: logger,
		l1:     cache.New[[]float32](cfg.CacheMaxSize, cfg.CacheTTL),
		l2:     redisWrapper,
	}
}

// EmbedOne returns the unit-length embedding for text. Lookups go fingerprint
// first: L1 LRU, then Redis, then the service. Concurrent calls for the same
// fingerprint collapse into one upstream request.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	fp := Fingerprint(text)

	if vec, ok := c.l1.Get(fp); ok {
		metrics.CacheHits.WithLabelValues("embedding").Inc()
		metrics.CacheSize.WithLabelValues("embedding").Set(float64(c.l1.Size()))
		return vec, nil
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	v, err, _ := c.flight.Do(fp, func() (interface{}, error) {
		// Re-check L1 in case a prior flight completed while we queued
		if vec, ok := c.l1.Get(fp); ok {
			return vec, nil
		}
		if vec, ok := c.l2Get(ctx, fp); ok {
			c.l1.Put(fp, vec)
			return vec, nil
		}

		vecs, err := c.EmbedMany(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		vec := vecs[0]
		c.l1.Put(fp, vec)
		c.l2Put(ctx, fp, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.CacheSize.WithLabelValues("embedding").Set(float64(c.l1.Size()))
	return v.([]float32), nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// EmbedMany calls the embedding service for a batch of texts. Results are
// L2-normalized and dimension-checked; order matches the input.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordEmbeddingMetrics(c.cfg.Model, "error", time.Since(start).Seconds())
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit open", ErrEmbeddingUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.RecordEmbeddingMetrics(c.cfg.Model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: status %d", ErrEmbeddingUnavailable, resp.StatusCode)
	}
	metrics.RecordEmbeddingMetrics(c.cfg.Model, "ok", time.Since(start).Seconds())

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrEmbeddingUnavailable, err)
	}
	var parsed embedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbeddingUnavailable, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrEmbeddingUnavailable, len(parsed.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: vector index %d out of range", ErrEmbeddingUnavailable, d.Index)
		}
		if c.cfg.Dim > 0 && len(d.Embedding) != c.cfg.Dim {
			return nil, &DimensionMismatchError{Want: c.cfg.Dim, Got: len(d.Embedding)}
		}
		out[d.Index] = Normalize(d.Embedding)
	}
	return out, nil
}

func (c *Client) l2Get(ctx context.Context, fp string) ([]float32, bool) {
	if c.l2 == nil {
		return nil, false
	}
	raw, err := c.l2.Get(ctx, "emb:"+fp).Result()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false
	}
	if c.cfg.Dim > 0 && len(vec) != c.cfg.Dim {
		return nil, false
	}
	return vec, true
}

func (c *Client) l2Put(ctx context.Context, fp string, vec []float32) {
	if c.l2 == nil {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.l2.Set(ctx, "emb:"+fp, string(raw), c.cfg.RedisCacheTTL).Err(); err != nil {
		c.logger.Debug("Redis embedding cache write failed", zap.Error(err))
	}
}

// BreakerState reports the embedding breaker's current state.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.http.Breaker().State()
}

// Normalize scales a vector to unit length. Zero vectors pass through.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
