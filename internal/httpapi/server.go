// Package httpapi is the service boundary: it decodes requests, runs the ask
// pipeline, and maps pipeline errors onto HTTP status codes. Rate limiting
// maps to 429 with Retry-After, blank queries to 422, and an unreachable
// embedding service or vector store to 503; everything the pipeline absorbs
// internally
// (degradation, refusal) still returns 200 with the mode on the envelope.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/ask"
	"github.com/mixmentor/mixmentor/internal/embeddings"
	"github.com/mixmentor/mixmentor/internal/health"
	"github.com/mixmentor/mixmentor/internal/memory"
	"github.com/mixmentor/mixmentor/internal/streaming"
	"github.com/mixmentor/mixmentor/internal/vectordb"
)

// Service is the pipeline surface the handlers call
type Service interface {
	Ask(ctx context.Context, req ask.Request) (ask.Envelope, error)
	AskStream(ctx context.Context, req ask.Request, stream *streaming.Stream)
	Search(ctx context.Context, req ask.Request) ([]ask.SearchResult, ask.SearchMeta, error)
	InvalidateResponses()
}

// MemoryStore is the persistence surface for the memory endpoints
type MemoryStore interface {
	Add(ctx context.Context, e memory.Entry) error
	List(ctx context.Context, sessionID string) ([]memory.Entry, error)
	DeleteBySession(ctx context.Context, sessionID string) (int64, error)
}

// Embedder embeds memory content on write so later asks can score it
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Server holds the handler dependencies
type Server struct {
	svc      Service
	memories MemoryStore // nil disables the memory endpoints
	embedder Embedder
	checks   *health.Manager
	reindex  func(ctx context.Context) error // Rebuilds the lexical index after corpus changes
	logger   *zap.Logger
}

// NewServer wires the handlers. memories and reindex may be nil.
func NewServer(svc Service, memories MemoryStore, embedder Embedder, checks *health.Manager,
	reindex func(ctx context.Context) error, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:      svc,
		memories: memories,
		embedder: embedder,
		checks:   checks,
		reindex:  reindex,
		logger:   logger,
	}
}

// Routes returns the request mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/ask/stream", s.handleAskStream)
	mux.HandleFunc("/ask/ws", s.handleAskWS)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/memory", s.handleMemory)
	mux.HandleFunc("/admin/invalidate", s.handleInvalidate)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)
	mux.HandleFunc("/health/live", s.handleLive)
	return mux
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reqID := requestID(r)
	w.Header().Set("X-Request-ID", reqID)
	req, ok := s.decodeAskRequest(w, r)
	if !ok {
		return
	}

	env, err := s.svc.Ask(r.Context(), req)
	if err != nil {
		s.logger.Warn("Ask rejected",
			zap.String("request_id", reqID), zap.String("session_id", req.SessionID), zap.Error(err))
		s.writePipelineError(w, err)
		return
	}
	s.logger.Info("Ask served",
		zap.String("request_id", reqID),
		zap.String("mode", string(env.Mode)),
		zap.String("tier", env.Usage.Tier),
		zap.Bool("cache_hit", env.Usage.CacheHit),
		zap.Int64("total_ms", env.Usage.TotalMS))
	s.writeJSON(w, http.StatusOK, env)
}

// requestID honors a caller-supplied X-Request-ID so upstream traces carry
// through, minting one otherwise.
func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := s.decodeAskRequest(w, r)
	if !ok {
		return
	}

	results, meta, err := s.svc.Search(r.Context(), req)
	if err != nil {
		s.writePipelineError(w, err)
		return
	}
	if results == nil {
		results = []ask.SearchResult{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"meta":    meta,
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.svc.InvalidateResponses()
	reindexed := false
	if s.reindex != nil {
		if err := s.reindex(r.Context()); err != nil {
			s.logger.Error("Lexical reindex failed", zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "reindex failed")
			return
		}
		reindexed = true
	}
	s.logger.Info("Caches invalidated", zap.Bool("reindexed", reindexed))
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"invalidated": true,
		"reindexed":   reindexed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	overall := s.checks.Overall(r.Context())
	code := http.StatusOK
	if !overall.Ready {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, overall)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.checks.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) decodeAskRequest(w http.ResponseWriter, r *http.Request) (ask.Request, bool) {
	var req ask.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return ask.Request{}, false
	}
	if req.TopK < 0 || req.TopK > 50 {
		s.writeError(w, http.StatusUnprocessableEntity, "top_k must be between 1 and 50")
		return ask.Request{}, false
	}
	if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 1 {
		s.writeError(w, http.StatusUnprocessableEntity, "confidence_threshold must be between 0 and 1")
		return ask.Request{}, false
	}
	return req, true
}

// writePipelineError maps pipeline errors to status codes.
func (s *Server) writePipelineError(w http.ResponseWriter, err error) {
	var rl *ask.RateLimitedError
	switch {
	case errors.Is(err, ask.ErrEmptyQuery):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &rl):
		retryAfter := int(rl.RetryAfter.Round(time.Second).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, embeddings.ErrEmbeddingUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "embedding service unavailable")
	case errors.Is(err, vectordb.ErrVectorDBUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, "search unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, 499, "request cancelled")
	default:
		s.logger.Error("Ask pipeline failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now().Unix(),
	})
}

// NewHTTPServer wraps the mux with production timeouts. Write timeout is long
// because /ask/stream holds the connection for the whole generation.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
}
