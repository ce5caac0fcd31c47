package rerank

import (
	"fmt"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mixmentor/mixmentor/internal/config"
	"github.com/mixmentor/mixmentor/internal/corpus"
	"github.com/mixmentor/mixmentor/internal/expand"
	"github.com/mixmentor/mixmentor/internal/search"
)

func testRerankCfg() config.RerankConfig {
	return config.RerankConfig{
		MaxPerDocument: 1,
		CourseBoost:    1.25,
		FilenameBoost:  1.20,
		MMREnabled:     false,
		MMRLambda:      0.7,
		CourseMarkers:  []string{"course", "masterclass"},
	}
}

func cand(id, sourcePath, sourceName string, dense float64) search.Result {
	return search.Result{
		Chunk:      corpus.Chunk{ID: id, SourcePath: sourcePath, SourceName: sourceName},
		DenseScore: dense,
	}
}

func TestRerankCourseBoostReorders(t *testing.T) {
	r := New(testRerankCfg(), zaptest.NewLogger(t))
	out := r.Rerank([]search.Result{
		cand("yt", "/youtube/video1.txt", "video1.txt", 0.70),
		cand("course", "/course/module3.pdf", "module3.pdf", 0.60),
	}, expand.IntentGeneral, 2)

	// 0.60 * 1.25 = 0.75 beats the unboosted 0.70
	if out[0].Chunk.ID != "course" {
		t.Errorf("Expected course chunk boosted to first, got %s", out[0].Chunk.ID)
	}
}

func TestRerankFilenameBoostByIntent(t *testing.T) {
	r := New(testRerankCfg(), zaptest.NewLogger(t))
	pool := []search.Result{
		cand("a", "/yt/a.txt", "drum_tutorial.txt", 0.70),
		cand("b", "/yt/b.txt", "mixing_vocals.txt", 0.62),
	}

	out := r.Rerank(pool, expand.IntentMixing, 2)
	// 0.62 * 1.20 = 0.744 beats 0.70
	if out[0].Chunk.ID != "b" {
		t.Errorf("Expected filename-boosted chunk first for mixing intent, got %s", out[0].Chunk.ID)
	}

	// Without an activating intent the boost is gone
	out = r.Rerank(pool, expand.IntentGeneral, 2)
	if out[0].Chunk.ID != "a" {
		t.Errorf("Expected no filename boost for general intent, got %s", out[0].Chunk.ID)
	}
}

func TestRerankPerDocumentCap(t *testing.T) {
	r := New(testRerankCfg(), zaptest.NewLogger(t))

	// Ten candidates, six share one document, four are distinct
	var pool []search.Result
	for i := 0; i < 6; i++ {
		pool = append(pool, cand(fmt.Sprintf("shared-%d", i), "/course/big.pdf", "big.pdf", 0.9-float64(i)*0.01))
	}
	for i := 0; i < 4; i++ {
		pool = append(pool, cand(fmt.Sprintf("solo-%d", i), fmt.Sprintf("/yt/v%d.txt", i), "v.txt", 0.5-float64(i)*0.01))
	}

	out := r.Rerank(pool, expand.IntentGeneral, 5)
	if len(out) != 5 {
		t.Fatalf("Expected 5 results, got %d", len(out))
	}
	seen := map[string]bool{}
	for _, rc := range out {
		if seen[rc.Chunk.SourcePath] {
			t.Errorf("Duplicate source_path %s in output", rc.Chunk.SourcePath)
		}
		seen[rc.Chunk.SourcePath] = true
	}
}

func TestRerankCapExhaustsPool(t *testing.T) {
	r := New(testRerankCfg(), zaptest.NewLogger(t))
	pool := []search.Result{
		cand("a1", "/yt/a.txt", "a.txt", 0.9),
		cand("a2", "/yt/a.txt", "a.txt", 0.8),
		cand("b1", "/yt/b.txt", "b.txt", 0.7),
	}
	out := r.Rerank(pool, expand.IntentGeneral, 5)
	if len(out) != 2 {
		t.Errorf("Expected 2 results when cap exhausts the pool, got %d", len(out))
	}
}

func TestRerankRanksAndClipping(t *testing.T) {
	r := New(testRerankCfg(), zaptest.NewLogger(t))
	out := r.Rerank([]search.Result{
		cand("hot", "/course/masterclass.pdf", "mixing_masterclass.pdf", 0.95),
		cand("mid", "/yt/v.txt", "v.txt", 0.60),
	}, expand.IntentMixing, 2)

	// 0.95 * 1.25 * 1.20 > 1 must clip
	if out[0].Score != 1.0 {
		t.Errorf("Expected clipped score 1.0, got %f", out[0].Score)
	}
	for i, rc := range out {
		if rc.Rank != i+1 {
			t.Errorf("Expected gap-free 1-based ranks, got rank %d at index %d", rc.Rank, i)
		}
	}
}

func TestRerankMMRSpreadsTopics(t *testing.T) {
	cfg := testRerankCfg()
	cfg.MMREnabled = true
	cfg.MaxPerDocument = 2
	r := New(cfg, zaptest.NewLogger(t))

	near := func(id, path string, score float64, vec []float32) search.Result {
		res := cand(id, path, id, score)
		res.Chunk.Embedding = vec
		return res
	}
	// a and b are near-duplicates; c is orthogonal with a slightly lower score
	pool := []search.Result{
		near("a", "/yt/a.txt", 0.90, []float32{1, 0}),
		near("b", "/yt/b.txt", 0.89, []float32{1, 0}),
		near("c", "/yt/c.txt", 0.80, []float32{0, 1}),
	}

	out := r.Rerank(pool, expand.IntentGeneral, 3)
	if out[0].Chunk.ID != "a" {
		t.Fatalf("Top relevance must lead, got %s", out[0].Chunk.ID)
	}
	// MMR: c scores 0.7*0.80 - 0.3*0 = 0.56 vs b 0.7*0.89 - 0.3*1 = 0.323
	if out[1].Chunk.ID != "c" {
		t.Errorf("Expected orthogonal chunk promoted by MMR, got %s", out[1].Chunk.ID)
	}
}

func TestRerankEmptyAndZeroK(t *testing.T) {
	r := New(testRerankCfg(), zaptest.NewLogger(t))
	if out := r.Rerank(nil, expand.IntentGeneral, 5); out != nil {
		t.Errorf("Expected nil for empty pool, got %v", out)
	}
	if out := r.Rerank([]search.Result{cand("a", "/p", "n", 0.9)}, expand.IntentGeneral, 0); out != nil {
		t.Errorf("Expected nil for topK=0, got %v", out)
	}
}
