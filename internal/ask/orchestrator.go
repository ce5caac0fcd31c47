package ask

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/cache"
	"github.com/mixmentor/mixmentor/internal/expand"
	"github.com/mixmentor/mixmentor/internal/generation"
	"github.com/mixmentor/mixmentor/internal/metrics"
	"github.com/mixmentor/mixmentor/internal/prompt"
	"github.com/mixmentor/mixmentor/internal/ratelimit"
	"github.com/mixmentor/mixmentor/internal/rerank"
	"github.com/mixmentor/mixmentor/internal/routing"
	"github.com/mixmentor/mixmentor/internal/search"
)

// Expander widens the query and tags its intent
type Expander interface {
	Expand(query string) expand.Expansion
}

// Embedder turns the expanded query into a unit vector
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Retriever runs hybrid retrieval over the corpus
type Retriever interface {
	Retrieve(ctx context.Context, queryText string, queryVec []float32, kPool int, subDomain string) (search.Output, error)
}

// Reranker orders the candidate pool for citation
type Reranker interface {
	Rerank(candidates []search.Result, intent expand.Intent, topK int) []rerank.RankedChunk
}

// Injector fetches the session's relevant memories
type Injector interface {
	Inject(ctx context.Context, sessionID string, queryVec []float32) (string, error)
}

// Router picks the tier and provider chain
type Router interface {
	Route(query string) routing.Decision
}

// Admitter is the rate limiter dependency
type Admitter interface {
	Admit(sessionID string) ratelimit.Decision
}

// Options tune the orchestrator
type Options struct {
	TopKDefault       int
	KPoolMultiplier   int
	DefaultThreshold  float64
	ContextCharBudget int
	ResponseCacheSize int
	ResponseCacheTTL  time.Duration
}

// Orchestrator wires the pipeline stages together
type Orchestrator struct {
	limiter   Admitter
	expander  Expander
	embedder  Embedder
	retriever Retriever
	reranker  Reranker
	injector  Injector // nil disables memory injection
	router    Router
	registry  *generation.Registry
	respCache *cache.Cache[Envelope]
	opts      Options
	logger    *zap.Logger
}

// New builds the orchestrator.
func New(limiter Admitter, expander Expander, embedder Embedder, retriever Retriever,
	reranker Reranker, injector Injector, router Router, registry *generation.Registry,
	opts Options, logger *zap.Logger) *Orchestrator {
	if opts.TopKDefault <= 0 {
		opts.TopKDefault = 5
	}
	if opts.KPoolMultiplier <= 0 {
		opts.KPoolMultiplier = 3
	}
	if opts.DefaultThreshold <= 0 {
		opts.DefaultThreshold = 0.58
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		limiter:   limiter,
		expander:  expander,
		embedder:  embedder,
		retriever: retriever,
		reranker:  reranker,
		injector:  injector,
		router:    router,
		registry:  registry,
		respCache: cache.New[Envelope](opts.ResponseCacheSize, opts.ResponseCacheTTL),
		opts:      opts,
		logger:    logger,
	}
}

// InvalidateResponses drops every cached envelope, used after corpus updates.
func (o *Orchestrator) InvalidateResponses() {
	o.respCache.Clear()
}

// pipelineState carries what the stages produce for one request
type pipelineState struct {
	req       Request
	topK      int
	threshold float64
	route     routing.Decision
	key       string

	expansion expand.Expansion
	queryVec  []float32
	ranked    []rerank.RankedChunk
	context   prompt.Context
	prompt    prompt.Prompt
	warnings  []string
	timings   Timings
}

// Ask answers one question through the full pipeline.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (Envelope, error) {
	start := time.Now()

	st, envOrNil, err := o.retrieveStages(ctx, req, nil, true)
	if err != nil {
		return Envelope{}, err
	}
	if envOrNil != nil {
		env := *envOrNil
		env.Usage.TotalMS = time.Since(start).Milliseconds()
		env.Timings.TotalMS = env.Usage.TotalMS
		metrics.RecordAskMetrics(string(env.Mode), time.Since(start).Seconds())
		return env, nil
	}

	// Stage 8: memories, then prompt assembly
	o.assemblePrompt(ctx, st)

	// Stage 9: walk the fallback chain
	genStart := time.Now()
	resp, ok := o.generate(ctx, st, nil)
	st.timings.GenerationMS = time.Since(genStart).Milliseconds()
	if err := ctx.Err(); err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if !ok {
		env = o.degradedEnvelope(st)
	} else {
		env = o.ragEnvelope(st, resp)
	}

	env.Usage.TotalMS = time.Since(start).Milliseconds()
	env.Timings = st.timings
	env.Timings.TotalMS = env.Usage.TotalMS

	if env.Mode == ModeRAG {
		o.respCache.Put(st.key, env)
	}
	metrics.RecordAskMetrics(string(env.Mode), time.Since(start).Seconds())
	return env, nil
}

// retrieveStages runs stages 1 through 7. It returns a non-nil envelope for
// early exits (cache hit, refusal); otherwise the caller continues with the
// returned state. The optional emit hook receives stage names for streaming.
// useCache=false skips the response-cache lookup; callers that need the
// ranked candidates rather than an answer must always run retrieval.
func (o *Orchestrator) retrieveStages(ctx context.Context, req Request, emit func(stage string), useCache bool) (*pipelineState, *Envelope, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, nil, ErrEmptyQuery
	}

	st := &pipelineState{req: req}
	st.topK = req.TopK
	if st.topK <= 0 {
		st.topK = o.opts.TopKDefault
	}
	st.threshold = req.ConfidenceThreshold
	if st.threshold <= 0 {
		st.threshold = o.opts.DefaultThreshold
	}

	// Stage 1: admission
	session := req.SessionID
	if session == "" {
		session = "anonymous"
	}
	if d := o.limiter.Admit(session); !d.Allowed {
		return nil, nil, &RateLimitedError{RetryAfter: d.RetryAfter}
	}

	// Stage 2: response cache. Routing is pure on the query, so the tier can
	// be part of the key before the pipeline runs.
	st.route = o.router.Route(req.Query)
	st.key = cacheKey(normalizeQuery(req.Query), st.topK, st.threshold, req.SubDomain, string(st.route.Tier))
	if useCache {
		if env, ok := o.respCache.Get(st.key); ok {
			metrics.CacheHits.WithLabelValues("response").Inc()
			env.Usage.CacheHit = true
			return st, &env, nil
		}
		metrics.CacheMisses.WithLabelValues("response").Inc()
	}

	// Stage 3: expansion
	if emit != nil {
		emit("expand")
	}
	st.expansion = o.expander.Expand(req.Query)

	// Stage 4: embedding. Unavailability is a hard fail; the boundary maps
	// it to 503.
	if emit != nil {
		emit("embed")
	}
	embedStart := time.Now()
	vec, err := o.embedder.EmbedOne(ctx, st.expansion.ExpandedQuery)
	st.timings.EmbeddingMS = time.Since(embedStart).Milliseconds()
	if err != nil {
		return nil, nil, err
	}
	st.queryVec = vec

	// Stage 5: hybrid retrieval
	if emit != nil {
		emit("search")
	}
	searchStart := time.Now()
	out, err := o.retriever.Retrieve(ctx, st.expansion.ExpandedQuery, vec, st.topK*o.opts.KPoolMultiplier, req.SubDomain)
	st.timings.SearchMS = time.Since(searchStart).Milliseconds()
	if err != nil {
		return nil, nil, err
	}
	if len(out.Results) == 0 {
		env := o.refusedEnvelope(st, "I could not find anything in the knowledge base relevant to this question.")
		return st, &env, nil
	}

	// Stage 6: rerank. MMR needs the chunk vectors decoded.
	if emit != nil {
		emit("rerank")
	}
	rerankStart := time.Now()
	for i := range out.Results {
		if decodeErr := out.Results[i].Chunk.DecodeEmbedding(); decodeErr != nil {
			o.logger.Debug("Undecodable chunk embedding", zap.String("chunk_id", out.Results[i].Chunk.ID))
		}
	}
	st.ranked = o.reranker.Rerank(out.Results, st.expansion.Intent, st.topK)
	st.timings.RerankMS = time.Since(rerankStart).Milliseconds()
	if len(st.ranked) == 0 {
		env := o.refusedEnvelope(st, "I could not find anything in the knowledge base relevant to this question.")
		return st, &env, nil
	}

	// Stage 7: confidence gate
	if top := st.ranked[0].Score; top < st.threshold {
		metrics.Refusals.WithLabelValues("low_confidence").Inc()
		env := o.refusedEnvelope(st,
			"The knowledge base does not contain enough relevant material to answer this confidently.")
		return st, &env, nil
	}

	return st, nil, nil
}

func (o *Orchestrator) assemblePrompt(ctx context.Context, st *pipelineState) {
	memoryBlock := ""
	if o.injector != nil && st.req.SessionID != "" {
		block, err := o.injector.Inject(ctx, st.req.SessionID, st.queryVec)
		if err != nil {
			o.logger.Warn("Memory injection failed, continuing without",
				zap.String("session_id", st.req.SessionID), zap.Error(err))
			st.warnings = append(st.warnings, WarnMemoryUnavailable)
		} else {
			memoryBlock = block
		}
	}
	st.context = prompt.BuildContext(st.ranked, o.opts.ContextCharBudget)
	st.prompt = prompt.Build(memoryBlock, st.context, st.req.Query)
}

// generate walks the provider chain. onDelta non-nil selects the streaming
// call. Returns ok=false when every provider is exhausted.
func (o *Orchestrator) generate(ctx context.Context, st *pipelineState, onDelta func(string) error) (generation.Response, bool) {
	genReq := generation.Request{
		System:      st.prompt.System,
		User:        st.prompt.User,
		Temperature: st.req.Temperature,
		MaxTokens:   st.req.MaxTokens,
	}

	for _, id := range st.route.Chain {
		if ctx.Err() != nil {
			return generation.Response{}, false
		}
		provider, err := o.registry.Get(id)
		if err != nil {
			o.logger.Warn("Chain names unregistered provider", zap.String("provider", id))
			continue
		}
		if !provider.Available() {
			metrics.FallbacksWalked.WithLabelValues(string(st.route.Tier)).Inc()
			continue
		}

		var resp generation.Response
		if onDelta != nil {
			resp, err = provider.GenerateStream(ctx, genReq, onDelta)
		} else {
			resp, err = provider.Generate(ctx, genReq)
		}
		if err == nil {
			return resp, true
		}
		if errors.Is(err, generation.ErrUnavailable) {
			metrics.FallbacksWalked.WithLabelValues(string(st.route.Tier)).Inc()
			o.logger.Warn("Provider unavailable, walking fallback chain",
				zap.String("provider", id), zap.Error(err))
			continue
		}
		// Cancellation or a callback abort ends the walk
		return generation.Response{}, false
	}
	return generation.Response{}, false
}

func (o *Orchestrator) sources(st *pipelineState) []SourceRef {
	out := make([]SourceRef, len(st.context.SourceMap))
	for i, rc := range st.context.SourceMap {
		out[i] = SourceRef{
			Index:      i + 1,
			SourceName: rc.Chunk.SourceName,
			SourcePath: rc.Chunk.SourcePath,
			Page:       rc.Chunk.PageNumber,
			Score:      rc.Score,
		}
	}
	return out
}

func (o *Orchestrator) refusedEnvelope(st *pipelineState, reason string) Envelope {
	metrics.Refusals.WithLabelValues("insufficient_knowledge").Inc()
	env := Envelope{
		Answer:    reason,
		Mode:      ModeRefused,
		Citations: []int{},
		Sources:   []SourceRef{},
		Usage:     Usage{Tier: string(st.route.Tier)},
		Timings:   st.timings,
	}
	env.Warnings = append(env.Warnings, st.warnings...)
	env.addWarning(WarnInsufficientKnowledge)
	return env
}

// degradedEnvelope returns the retrieved material raw. The answer is the
// concatenated chunk texts in rank order so the caller still gets the
// substance the model would have grounded on.
func (o *Orchestrator) degradedEnvelope(st *pipelineState) Envelope {
	var b strings.Builder
	for i, rc := range st.context.SourceMap {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(rc.Chunk.Text)
	}
	env := Envelope{
		Answer:    b.String(),
		Mode:      ModeDegraded,
		Citations: []int{},
		Sources:   o.sources(st),
		Usage:     Usage{Tier: string(st.route.Tier)},
	}
	env.Warnings = append(env.Warnings, st.warnings...)
	env.addWarning(WarnLLMUnavailable)
	return env
}

func (o *Orchestrator) ragEnvelope(st *pipelineState, resp generation.Response) Envelope {
	env := Envelope{
		Answer:  resp.Text,
		Mode:    ModeRAG,
		Sources: o.sources(st),
		Usage: Usage{
			Tier:         string(st.route.Tier),
			Model:        resp.Usage.Model,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	env.Warnings = append(env.Warnings, st.warnings...)
	env.Citations, env.Warnings = o.validateCitations(resp.Text, st.context.N(), env.Warnings)
	return env
}
