package rerank

import "sort"

// sortScored orders by boosted score descending, breaking ties by dense
// similarity then source_path.
func sortScored(pool []scored) {
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		if pool[i].res.DenseScore != pool[j].res.DenseScore {
			return pool[i].res.DenseScore > pool[j].res.DenseScore
		}
		return pool[i].res.Chunk.SourcePath < pool[j].res.Chunk.SourcePath
	})
}

// mmrReorder applies greedy maximal marginal relevance over the admitted set.
// Each step picks the candidate maximizing lambda*relevance minus
// (1-lambda)*max similarity to anything already picked. The first (highest
// scored) candidate always leads. Candidates without embeddings contribute
// zero similarity and so are ordered by relevance alone.
func mmrReorder(admitted []scored, lambda float64) []scored {
	n := len(admitted)
	if n <= 2 {
		return admitted
	}

	picked := make([]scored, 0, n)
	used := make([]bool, n)
	picked = append(picked, admitted[0])
	used[0] = true

	for len(picked) < n {
		bestIdx := -1
		bestVal := 0.0
		for i := 1; i < n; i++ {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, p := range picked {
				sim := cosine(admitted[i].res.Chunk.Embedding, p.res.Chunk.Embedding)
				if sim > maxSim {
					maxSim = sim
				}
			}
			val := lambda*admitted[i].score - (1-lambda)*maxSim
			if bestIdx == -1 || val > bestVal {
				bestIdx = i
				bestVal = val
			}
		}
		picked = append(picked, admitted[bestIdx])
		used[bestIdx] = true
	}
	return picked
}

// cosine over float32 vectors. Inputs are unit length so the dot product
// suffices; mismatched or missing vectors score zero.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
