// Package rerank orders the fused candidate pool for citation. Boosts reward
// curated sources and intent-matching filenames, a per-document cap spreads
// citations across sources, and MMR spreads topical coverage.
package rerank

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/config"
	"github.com/mixmentor/mixmentor/internal/corpus"
	"github.com/mixmentor/mixmentor/internal/expand"
	"github.com/mixmentor/mixmentor/internal/metrics"
	"github.com/mixmentor/mixmentor/internal/search"
)

// RankedChunk is a candidate that survived reranking
type RankedChunk struct {
	Chunk        corpus.Chunk
	Score        float64 // Post-boost relevance, clipped to [0,1]
	Rank         int     // 1-based, gap-free
	DenseScore   float64
	LexicalScore float64
}

type scored struct {
	res   search.Result
	score float64
}

// Reranker applies the boost, cap, and diversity pipeline
type Reranker struct {
	cfg      config.RerankConfig
	keywords map[expand.Intent][]string
	logger   *zap.Logger
}

// defaultFilenameKeywords maps intents to source-name substrings that earn
// the filename boost.
var defaultFilenameKeywords = map[expand.Intent][]string{
	expand.IntentMastering: {"mastering", "mixing", "masterclass"},
	expand.IntentMixing:    {"mastering", "mixing", "masterclass"},
	expand.IntentRealtime:  {"live", "performance"},
}

// New builds a reranker.
func New(cfg config.RerankConfig, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPerDocument <= 0 {
		cfg.MaxPerDocument = 1
	}
	return &Reranker{cfg: cfg, keywords: defaultFilenameKeywords, logger: logger}
}

// Rerank orders candidates and returns at most topK ranked chunks. The base
// relevance is the stronger of the candidate's dense and lexical scores; the
// fused RRF ordering only decided pool membership.
func (r *Reranker) Rerank(candidates []search.Result, intent expand.Intent, topK int) []RankedChunk {
	start := time.Now()
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}

	pool := make([]scored, 0, len(candidates))
	keywords := r.keywords[intent]

	for _, c := range candidates {
		score := c.DenseScore
		if c.LexicalScore > score {
			score = c.LexicalScore
		}
		if r.isCourse(c.Chunk.SourcePath) {
			score *= r.cfg.CourseBoost
		}
		if matchesAny(c.Chunk.SourceName, keywords) {
			score *= r.cfg.FilenameBoost
		}
		pool = append(pool, scored{res: c, score: score})
	}

	sortScored(pool)

	// Per-document cap: walk in score order, admit up to MaxPerDocument per
	// source_path. The pool may run out before topK is filled.
	admitted := make([]scored, 0, topK)
	perDoc := make(map[string]int)
	for _, s := range pool {
		if len(admitted) == topK {
			break
		}
		if perDoc[s.res.Chunk.SourcePath] >= r.cfg.MaxPerDocument {
			continue
		}
		perDoc[s.res.Chunk.SourcePath]++
		admitted = append(admitted, s)
	}

	if r.cfg.MMREnabled && len(admitted) > 2 {
		admitted = mmrReorder(admitted, r.cfg.MMRLambda)
	}

	out := make([]RankedChunk, len(admitted))
	for i, s := range admitted {
		out[i] = RankedChunk{
			Chunk:        s.res.Chunk,
			Score:        clip01(s.score),
			Rank:         i + 1,
			DenseScore:   s.res.DenseScore,
			LexicalScore: s.res.LexicalScore,
		}
	}
	metrics.RecordStage("rerank", time.Since(start).Seconds())
	return out
}

func (r *Reranker) isCourse(sourcePath string) bool {
	lower := strings.ToLower(sourcePath)
	for _, marker := range r.cfg.CourseMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

func matchesAny(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func clip01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
