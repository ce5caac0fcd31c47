package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ask pipeline metrics
	AskRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_ask_requests_total",
			Help: "Total number of ask requests by response mode",
		},
		[]string{"mode"},
	)

	StageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mixmentor_stage_latency_seconds",
			Help:    "Per-stage latency of the ask pipeline",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	Refusals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_refusals_total",
			Help: "Total number of refused responses by reason",
		},
		[]string{"reason"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mixmentor_cache_size",
			Help: "Current number of entries per cache",
		},
		[]string{"cache"},
	)

	// Rate limiter metrics
	RateLimitDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mixmentor_rate_limit_denials_total",
			Help: "Total number of requests denied by the rate limiter",
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mixmentor_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Vector DB metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mixmentor_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// Lexical search metrics
	LexicalSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_lexical_search_total",
			Help: "Total number of BM25 searches",
		},
		[]string{"status"},
	)

	// Generation metrics
	GenerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_generation_requests_total",
			Help: "Total number of generation requests",
		},
		[]string{"provider", "status"},
	)

	GenerationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mixmentor_generation_latency_seconds",
			Help:    "Generation latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	FallbacksWalked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_generation_fallbacks_total",
			Help: "Total number of fallback transitions in provider chains",
		},
		[]string{"tier"},
	)

	// Memory metrics
	MemoryFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mixmentor_memory_fetches_total",
			Help: "Total number of memory retrievals",
		},
		[]string{"status"},
	)

	MemoryEntriesInjected = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mixmentor_memory_entries_injected",
			Help:    "Number of memory entries injected per request",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	// Citation metrics
	InvalidCitations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mixmentor_invalid_citations_total",
			Help: "Total number of out-of-range citation markers stripped from answers",
		},
	)
)

// RecordAskMetrics records metrics for a completed ask request
func RecordAskMetrics(mode string, totalSeconds float64) {
	AskRequests.WithLabelValues(mode).Inc()
	StageLatency.WithLabelValues("total").Observe(totalSeconds)
}

// RecordStage records a single pipeline stage latency
func RecordStage(stage string, seconds float64) {
	StageLatency.WithLabelValues(stage).Observe(seconds)
}

// RecordEmbeddingMetrics records embedding metrics
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}

// RecordVectorSearchMetrics records vector search metrics
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordGenerationMetrics records generation metrics
func RecordGenerationMetrics(provider, status string, durationSeconds float64) {
	GenerationRequests.WithLabelValues(provider, status).Inc()
	if durationSeconds > 0 {
		GenerationLatency.WithLabelValues(provider).Observe(durationSeconds)
	}
}
