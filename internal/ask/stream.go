package ask

import (
	"context"
	"time"

	"github.com/mixmentor/mixmentor/internal/citations"
	"github.com/mixmentor/mixmentor/internal/metrics"
	"github.com/mixmentor/mixmentor/internal/streaming"
)

func (o *Orchestrator) validateCitations(answer string, n int, warnings []string) ([]int, []string) {
	result := citations.Validate(answer, n)
	if result.Invalid {
		warnings = appendUnique(warnings, WarnInvalidCitations)
	}
	if result.Citations == nil {
		return []int{}, warnings
	}
	return result.Citations, warnings
}

func appendUnique(warnings []string, w string) []string {
	for _, existing := range warnings {
		if existing == w {
			return warnings
		}
	}
	return append(warnings, w)
}

// AskStream runs the pipeline and publishes progress to the stream: step
// events per stage, one sources event once the citable set is fixed, chunk
// events for each generation delta, then done with the final envelope (or
// error). The stream is closed before returning.
func (o *Orchestrator) AskStream(ctx context.Context, req Request, stream *streaming.Stream) {
	defer stream.Close()
	start := time.Now()

	emit := func(stage string) {
		stream.Publish(streaming.NewEvent(streaming.EventStep, map[string]string{"stage": stage}))
	}

	st, early, err := o.retrieveStages(ctx, req, emit, true)
	if err != nil {
		stream.Publish(streaming.NewEvent(streaming.EventError, map[string]string{"error": err.Error()}))
		return
	}
	if early != nil {
		env := *early
		env.Usage.TotalMS = time.Since(start).Milliseconds()
		env.Timings.TotalMS = env.Usage.TotalMS
		stream.Publish(streaming.NewEvent(streaming.EventSources, env.Sources))
		stream.Publish(streaming.NewEvent(streaming.EventDone, env))
		return
	}

	emit("generate")
	o.assemblePrompt(ctx, st)

	// Sources are fixed before the first chunk so the client can resolve
	// citations as deltas arrive
	stream.Publish(streaming.NewEvent(streaming.EventSources, o.sources(st)))

	genStart := time.Now()
	resp, ok := o.generate(ctx, st, func(delta string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stream.Publish(streaming.NewEvent(streaming.EventChunk, map[string]string{"delta": delta}))
		return nil
	})
	st.timings.GenerationMS = time.Since(genStart).Milliseconds()
	if err := ctx.Err(); err != nil {
		stream.Publish(streaming.NewEvent(streaming.EventError, map[string]string{"error": "request cancelled"}))
		return
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
	stream.Publish(streaming.NewEvent(streaming.EventDone, env))
}

// SearchResult is one entry in a retrieval-only response
type SearchResult struct {
	Rank       int     `json:"rank"`
	ChunkID    string  `json:"chunk_id"`
	SourceName string  `json:"source_name"`
	SourcePath string  `json:"source_path"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// SearchMeta describes how a retrieval-only request was processed
type SearchMeta struct {
	Intent        string  `json:"intent"`
	ExpandedQuery string  `json:"expanded_query"`
	Threshold     float64 `json:"threshold"`
	EmbeddingMS   int64   `json:"embedding_ms"`
	SearchMS      int64   `json:"search_ms"`
	RerankMS      int64   `json:"rerank_ms"`
}

// Search runs stages 1 through 6 only and returns the reranked results. The
// confidence gate is reported through the meta threshold but not applied; the
// caller sees exactly what the ask pipeline would rank.
func (o *Orchestrator) Search(ctx context.Context, req Request) ([]SearchResult, SearchMeta, error) {
	// The response cache holds answer envelopes, not candidate sets, so a
	// cached ask must not short-circuit retrieval here.
	st, _, err := o.retrieveStages(ctx, req, nil, false)
	if err != nil {
		return nil, SearchMeta{}, err
	}

	// The gate's refusal does not hide results here; st.ranked is empty only
	// when retrieval itself found nothing
	ranked := st.ranked
	meta := SearchMeta{
		Intent:        string(st.expansion.Intent),
		ExpandedQuery: st.expansion.ExpandedQuery,
		Threshold:     st.threshold,
		EmbeddingMS:   st.timings.EmbeddingMS,
		SearchMS:      st.timings.SearchMS,
		RerankMS:      st.timings.RerankMS,
	}

	out := make([]SearchResult, len(ranked))
	for i, rc := range ranked {
		out[i] = SearchResult{
			Rank:       rc.Rank,
			ChunkID:    rc.Chunk.ID,
			SourceName: rc.Chunk.SourceName,
			SourcePath: rc.Chunk.SourcePath,
			Page:       rc.Chunk.PageNumber,
			Score:      rc.Score,
			Text:       rc.Chunk.Text,
		}
	}
	return out, meta, nil
}
