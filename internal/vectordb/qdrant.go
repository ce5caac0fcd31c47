// Package vectordb is a thin HTTP client for Qdrant used for dense retrieval.
// Only the ask path's needs are covered: similarity search with an optional
// sub-domain filter, and a startup dimensionality check against the
// collection schema.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/circuitbreaker"
	"github.com/mixmentor/mixmentor/internal/config"
	"github.com/mixmentor/mixmentor/internal/metrics"
)

// ErrVectorDBUnavailable reports that Qdrant could not be reached.
var ErrVectorDBUnavailable = errors.New("vector database unavailable")

// DimensionMismatchError reports a collection whose vector size disagrees
// with the configured embedding dimensionality. Startup aborts on it.
type DimensionMismatchError struct {
	Collection string
	Want, Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("collection %s has vector size %d, expected %d", e.Collection, e.Got, e.Want)
}

// ScoredPoint is one similarity hit
type ScoredPoint struct {
	ID    string
	Score float64 // Cosine similarity in [0,1] for normalized vectors
}

// Client talks to one Qdrant collection
type Client struct {
	baseURL    string
	collection string
	http       *circuitbreaker.HTTPWrapper
	logger     *zap.Logger
}

// NewClient builds a Qdrant client for the configured collection.
func NewClient(cfg config.VectorDBConfig, breakerCfg circuitbreaker.Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		collection: cfg.Collection,
		http:       circuitbreaker.NewHTTPWrapperWithConfig(&http.Client{Timeout: timeout}, "qdrant", "vectordb", breakerCfg, logger),
		logger:     logger,
	}
}

// NewClientForURL builds a client against an explicit base URL, used by tests.
func NewClientForURL(baseURL, collection string, breakerCfg circuitbreaker.Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		collection: collection,
		http:       circuitbreaker.NewHTTPWrapperWithConfig(&http.Client{Timeout: 5 * time.Second}, "qdrant", "vectordb", breakerCfg, logger),
		logger:     logger,
	}
}

type searchRequest struct {
	Vector      []float32     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
}

type qdrantFilter struct {
	Must []qdrantCondition `json:"must"`
}

type qdrantCondition struct {
	Key   string      `json:"key"`
	Match qdrantMatch `json:"match"`
}

type qdrantMatch struct {
	Value string `json:"value"`
}

type searchResponse struct {
	Result []struct {
		ID    pointID `json:"id"`
		Score float64 `json:"score"`
	} `json:"result"`
}

// pointID accepts either form Qdrant uses for ids, uuid strings or integers
type pointID string

func (p *pointID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*p = pointID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = pointID(n.String())
	return nil
}

// Search returns the limit nearest points to vector, optionally restricted to
// one sub_domain payload value.
func (c *Client) Search(ctx context.Context, vector []float32, limit int, subDomain string) ([]ScoredPoint, error) {
	start := time.Now()

	req := searchRequest{Vector: vector, Limit: limit, WithPayload: false}
	if subDomain != "" {
		req.Filter = &qdrantFilter{Must: []qdrantCondition{
			{Key: "sub_domain", Match: qdrantMatch{Value: subDomain}},
		}}
	}

	var parsed searchResponse
	err := c.post(ctx, fmt.Sprintf("/collections/%s/points/search", c.collection), req, &parsed)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordVectorSearchMetrics(c.collection, status, time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	out := make([]ScoredPoint, 0, len(parsed.Result))
	for _, r := range parsed.Result {
		out = append(out, ScoredPoint{ID: string(r.ID), Score: r.Score})
	}
	return out, nil
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// ValidateDimensions checks the collection's vector size against dim. Called
// once at startup so a misconfigured collection fails fast instead of
// producing garbage similarity scores.
func (c *Client) ValidateDimensions(ctx context.Context, dim int) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/collections/"+c.collection, nil)
	if err != nil {
		return fmt.Errorf("build collection info request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVectorDBUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: collection info status %d", ErrVectorDBUnavailable, resp.StatusCode)
	}

	var info collectionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("decode collection info: %w", err)
	}
	if got := info.Result.Config.Params.Vectors.Size; got != dim {
		return &DimensionMismatchError{Collection: c.collection, Want: dim, Got: got}
	}
	return nil
}

// Ping verifies Qdrant is reachable, used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/readyz", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVectorDBUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: readyz status %d", ErrVectorDBUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: circuit open", ErrVectorDBUnavailable)
		}
		return fmt.Errorf("%w: %v", ErrVectorDBUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrVectorDBUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrVectorDBUnavailable, resp.StatusCode, truncate(data, 200))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
