// Package search fuses dense vector retrieval with BM25 lexical retrieval
// using reciprocal rank fusion. The two branches run in parallel; the vector
// store is a required dependency, so a dense failure fails the request.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mixmentor/mixmentor/internal/config"
	"github.com/mixmentor/mixmentor/internal/corpus"
	"github.com/mixmentor/mixmentor/internal/lexical"
	"github.com/mixmentor/mixmentor/internal/metrics"
	"github.com/mixmentor/mixmentor/internal/vectordb"
)

// DenseSearcher is the vector database dependency
type DenseSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, subDomain string) ([]vectordb.ScoredPoint, error)
}

// LexicalSearcher is the BM25 index dependency
type LexicalSearcher interface {
	Search(query string, limit int, subDomain string) []lexical.Hit
}

// ChunkFetcher dereferences fused ids into full chunks
type ChunkFetcher interface {
	GetByIDs(ctx context.Context, ids []string) ([]corpus.Chunk, error)
}

// Result is one fused candidate with its component scores
type Result struct {
	Chunk        corpus.Chunk
	DenseScore   float64 // Cosine similarity, 0 when absent from the dense list
	LexicalScore float64 // Normalized BM25, 0 when absent from the lexical list
	FusedScore   float64 // Weighted reciprocal rank fusion score
}

// Output carries the fused candidates
type Output struct {
	Results []Result
}

// Hybrid runs both retrieval branches and fuses their rankings
type Hybrid struct {
	dense  DenseSearcher
	lex    LexicalSearcher
	chunks ChunkFetcher
	cfg    config.SearchConfig
	logger *zap.Logger
}

// NewHybrid builds the hybrid searcher.
func NewHybrid(dense DenseSearcher, lex LexicalSearcher, chunks ChunkFetcher, cfg config.SearchConfig, logger *zap.Logger) *Hybrid {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hybrid{dense: dense, lex: lex, chunks: chunks, cfg: cfg, logger: logger}
}

// Retrieve fuses dense and lexical candidates for the query and returns up to
// kPool chunks. A dense-branch error fails the whole request; the HTTP
// boundary maps it to 503. An empty result with no error means the corpus has
// nothing relevant.
func (h *Hybrid) Retrieve(ctx context.Context, queryText string, queryVec []float32, kPool int, subDomain string) (Output, error) {
	start := time.Now()
	if kPool <= 0 {
		kPool = h.cfg.TopKDefault * h.cfg.KPoolMultiplier
	}

	var (
		denseHits []vectordb.ScoredPoint
		lexHits   []lexical.Hit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := h.dense.Search(gctx, queryVec, kPool, subDomain)
		if err != nil {
			h.logger.Error("Dense search failed", zap.Error(err))
			return fmt.Errorf("dense search: %w", err)
		}
		denseHits = hits
		return nil
	})
	g.Go(func() error {
		lexHits = h.lex.Search(queryText, kPool, subDomain)
		return nil
	})
	if err := g.Wait(); err != nil {
		return Output{}, err
	}

	fused := h.fuse(denseHits, lexHits, kPool)
	if len(fused) == 0 {
		return Output{}, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.id
	}
	rows, err := h.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return Output{}, err
	}
	byID := make(map[string]corpus.Chunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}

	results := make([]Result, 0, len(fused))
	for _, f := range fused {
		chunk, ok := byID[f.id]
		if !ok {
			// Vector store can briefly lead the corpus after reingestion
			continue
		}
		results = append(results, Result{
			Chunk:        chunk,
			DenseScore:   f.denseScore,
			LexicalScore: f.lexScore,
			FusedScore:   f.fused,
		})
	}

	metrics.RecordStage("search", time.Since(start).Seconds())
	return Output{Results: results}, nil
}

type fusedCandidate struct {
	id         string
	denseScore float64
	lexScore   float64
	fused      float64
	sourcePath string
}

// fuse merges the two rankings with weighted reciprocal rank fusion. A
// candidate's score is w/(K+rank) summed over the lists that contain it,
// ranks 1-based. Ties break on dense similarity, then id for stability.
func (h *Hybrid) fuse(dense []vectordb.ScoredPoint, lex []lexical.Hit, kPool int) []fusedCandidate {
	k := float64(h.cfg.RRFK)
	byID := make(map[string]*fusedCandidate, len(dense)+len(lex))

	for i, hit := range dense {
		byID[hit.ID] = &fusedCandidate{
			id:         hit.ID,
			denseScore: hit.Score,
			fused:      h.cfg.DenseWeight / (k + float64(i+1)),
		}
	}
	for i, hit := range lex {
		c, ok := byID[hit.ID]
		if !ok {
			c = &fusedCandidate{id: hit.ID}
			byID[hit.ID] = c
		}
		c.lexScore = hit.Score
		c.fused += h.cfg.LexicalWeight / (k + float64(i+1))
	}

	out := make([]fusedCandidate, 0, len(byID))
	for _, c := range byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].fused != out[j].fused {
			return out[i].fused > out[j].fused
		}
		if out[i].denseScore != out[j].denseScore {
			return out[i].denseScore > out[j].denseScore
		}
		return out[i].id < out[j].id
	})
	if len(out) > kPool {
		out = out[:kPool]
	}
	return out
}
