// Package ask runs the nine-stage pipeline behind every question: admission,
// cache, expansion, embedding, hybrid retrieval, rerank, confidence gate,
// prompt assembly, and generation with fallback. All per-request state is
// stack-local; the orchestrator owns no mutable state beyond its caches.
package ask

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode classifies how the answer was produced
type Mode string

const (
	ModeRAG      Mode = "rag"
	ModeTool     Mode = "tool" // Reserved for the external tool adapter
	ModeDegraded Mode = "degraded"
	ModeRefused  Mode = "refused"
)

// Warning labels attached to an envelope
const (
	WarnInvalidCitations      = "invalid_citations"
	WarnLLMUnavailable        = "llm_unavailable"
	WarnMemoryUnavailable     = "memory_unavailable"
	WarnInsufficientKnowledge = "insufficient_knowledge"
)

// Request is one question
type Request struct {
	Query               string  `json:"query"`
	UseTools            bool    `json:"use_tools,omitempty"`
	SessionID           string  `json:"session_id,omitempty"`
	TopK                int     `json:"top_k,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	Temperature         float64 `json:"temperature,omitempty"`
	MaxTokens           int     `json:"max_tokens,omitempty"`
	SubDomain           string  `json:"sub_domain,omitempty"`
}

// SourceRef is one citable source in the envelope
type SourceRef struct {
	Index      int     `json:"index"` // 1-based, matches citation numbers
	SourceName string  `json:"source_name"`
	SourcePath string  `json:"source_path"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
}

// Usage reports cost and provenance of the answer
type Usage struct {
	Tier         string `json:"tier"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalMS      int64  `json:"total_ms"`
	CacheHit     bool   `json:"cache_hit"`
}

// Timings are the per-stage latencies surfaced on the envelope
type Timings struct {
	EmbeddingMS  int64 `json:"embedding_ms"`
	SearchMS     int64 `json:"search_ms"`
	RerankMS     int64 `json:"rerank_ms"`
	GenerationMS int64 `json:"generation_ms"`
	TotalMS      int64 `json:"total_ms"`
}

// Envelope is the full response for one ask
type Envelope struct {
	Answer    string      `json:"answer"`
	Mode      Mode        `json:"mode"`
	Citations []int       `json:"citations"`
	Sources   []SourceRef `json:"sources"`
	Usage     Usage       `json:"usage"`
	Warnings  []string    `json:"warnings,omitempty"`
	Timings   Timings     `json:"timings"`
}

func (e *Envelope) addWarning(w string) {
	for _, existing := range e.Warnings {
		if existing == w {
			return
		}
	}
	e.Warnings = append(e.Warnings, w)
}

// HasWarning reports whether the envelope carries the warning.
func (e *Envelope) HasWarning(w string) bool {
	for _, existing := range e.Warnings {
		if existing == w {
			return true
		}
	}
	return false
}

// RateLimitedError is returned when admission fails; the boundary maps it to
// HTTP 429 with a Retry-After header.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ErrEmptyQuery is returned for blank queries; the boundary maps it to 422.
var ErrEmptyQuery = errors.New("query must not be empty")

// cacheKey digests the request facets that determine the answer. Tier is
// included because routing changes which model answers; the query is
// normalized the same way the embedding fingerprint is so trivial
// reformulations share an entry.
func cacheKey(normalizedQuery string, topK int, threshold float64, subDomain, tier string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%.4f|%s|%s", normalizedQuery, topK, threshold, subDomain, tier)
	return hex.EncodeToString(h.Sum(nil))
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}
