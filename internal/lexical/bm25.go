// Package lexical provides the BM25 side of hybrid retrieval. The index is
// built in memory from a full corpus scan at startup and rebuilt on
// invalidation; queries never touch the database.
package lexical

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/metrics"
)

const (
	k1 = 1.2
	b  = 0.75
)

// Hit is one lexical match
type Hit struct {
	ID    string
	Score float64 // Normalized to [0,1] within the result set
}

type document struct {
	id        string
	subDomain string
	length    int
	terms     map[string]int // term -> frequency in this document
}

// Index is an Okapi BM25 index over chunk texts. Safe for concurrent search;
// Rebuild swaps the whole index atomically.
type Index struct {
	logger *zap.Logger

	mu        sync.RWMutex
	docs      []document
	docFreq   map[string]int // term -> number of docs containing it
	avgLength float64
}

// NewIndex creates an empty index.
func NewIndex(logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		logger:  logger,
		docFreq: make(map[string]int),
	}
}

// Builder accumulates documents for an index swap
type Builder struct {
	docs    []document
	docFreq map[string]int
	total   int
}

// NewBuilder starts a fresh build.
func NewBuilder() *Builder {
	return &Builder{docFreq: make(map[string]int)}
}

// Add indexes one document's text.
func (bld *Builder) Add(id, subDomain, text string) {
	tokens := Tokenize(text)
	terms := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		terms[tok]++
	}
	for term := range terms {
		bld.docFreq[term]++
	}
	bld.docs = append(bld.docs, document{
		id:        id,
		subDomain: subDomain,
		length:    len(tokens),
		terms:     terms,
	})
	bld.total += len(tokens)
}

// Swap atomically replaces the index contents with the builder's.
func (idx *Index) Swap(bld *Builder) {
	avg := 0.0
	if len(bld.docs) > 0 {
		avg = float64(bld.total) / float64(len(bld.docs))
	}

	idx.mu.Lock()
	idx.docs = bld.docs
	idx.docFreq = bld.docFreq
	idx.avgLength = avg
	idx.mu.Unlock()

	idx.logger.Info("Lexical index rebuilt",
		zap.Int("documents", len(bld.docs)),
		zap.Int("vocabulary", len(bld.docFreq)),
	)
}

// Size returns the number of indexed documents.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search scores every document against the query and returns the top limit
// hits. Scores are max-normalized to [0,1] within the result set, and an
// optional subDomain restricts candidates. An empty query returns no hits.
func (idx *Index) Search(query string, limit int, subDomain string) []Hit {
	terms := Tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return nil
	}
	metrics.LexicalSearches.WithLabelValues("ok").Inc()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := len(idx.docs)
	if n == 0 {
		return nil
	}

	// Lucene-style smoothed IDF keeps scores positive even for terms in
	// more than half the corpus
	idf := make(map[string]float64, len(terms))
	for _, term := range terms {
		if _, done := idf[term]; done {
			continue
		}
		df := idx.docFreq[term]
		idf[term] = math.Log(float64(n+1)/float64(df+1)) + 1.0
	}

	hits := make([]Hit, 0, 32)
	for _, doc := range idx.docs {
		if subDomain != "" && doc.subDomain != subDomain {
			continue
		}
		score := 0.0
		for term, termIDF := range idf {
			tf := float64(doc.terms[term])
			if tf == 0 {
				continue
			}
			lengthNorm := 1.0 - b + b*float64(doc.length)/idx.avgLength
			score += termIDF * (tf * (k1 + 1)) / (tf + k1*lengthNorm)
		}
		if score > 0 {
			hits = append(hits, Hit{ID: doc.id, Score: score})
		}
	}
	if len(hits) == 0 {
		return nil
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	// Max-normalize so lexical scores are comparable across queries
	max := hits[0].Score
	for i := range hits {
		hits[i].Score /= max
	}
	return hits
}

// Tokenize lowercases and splits text on non-alphanumeric runs. Tokens of a
// single rune are kept; BM25's IDF downweights them naturally.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
