// Command askd serves the music-production knowledge assistant: hybrid
// retrieval over the ingested corpus, tiered generation with fallback, and
// per-session memory, all behind a single HTTP API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/ask"
	"github.com/mixmentor/mixmentor/internal/circuitbreaker"
	"github.com/mixmentor/mixmentor/internal/config"
	"github.com/mixmentor/mixmentor/internal/corpus"
	"github.com/mixmentor/mixmentor/internal/embeddings"
	"github.com/mixmentor/mixmentor/internal/expand"
	"github.com/mixmentor/mixmentor/internal/generation"
	"github.com/mixmentor/mixmentor/internal/health"
	"github.com/mixmentor/mixmentor/internal/httpapi"
	"github.com/mixmentor/mixmentor/internal/lexical"
	"github.com/mixmentor/mixmentor/internal/memory"
	"github.com/mixmentor/mixmentor/internal/ratelimit"
	"github.com/mixmentor/mixmentor/internal/rerank"
	"github.com/mixmentor/mixmentor/internal/routing"
	"github.com/mixmentor/mixmentor/internal/search"
	"github.com/mixmentor/mixmentor/internal/vectordb"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("askd exited", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Each dependency class carries its own breaker defaults, env-tunable per
	// class; the yaml threshold and cooldown override across all of them
	overlay := func(bc circuitbreaker.BreakerConfig) circuitbreaker.Config {
		if cfg.Breaker.FailureThreshold > 0 {
			bc.FailureThreshold = uint32(cfg.Breaker.FailureThreshold)
		}
		if cfg.Breaker.Cooldown > 0 {
			bc.Cooldown = cfg.Breaker.Cooldown
		}
		return bc.ToConfig()
	}
	httpBreaker := overlay(circuitbreaker.GetHTTPConfig())
	embedBreaker := overlay(circuitbreaker.GetEmbeddingConfig())
	genBreaker := overlay(circuitbreaker.GetGenerationConfig())
	circuitbreaker.StartMetricsCollection()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Corpus and lexical index
	store, err := corpus.NewStore(cfg.Corpus.Postgres, logger)
	if err != nil {
		return fmt.Errorf("open corpus store: %w", err)
	}
	defer store.Close()

	lexIndex := lexical.NewIndex(logger)
	reindex := func(ctx context.Context) error {
		return rebuildLexicalIndex(ctx, store, lexIndex, logger)
	}
	if err := reindex(startCtx); err != nil {
		return fmt.Errorf("build lexical index: %w", err)
	}

	// Vector index. A dimension mismatch here means the corpus was embedded
	// with a different model than configured, which no runtime fallback fixes.
	qdrant := vectordb.NewClient(cfg.VectorDB, httpBreaker, logger)
	if err := qdrant.ValidateDimensions(startCtx, cfg.Embedding.Dim); err != nil {
		return fmt.Errorf("validate vector collection: %w", err)
	}

	// Embeddings with optional Redis L2 cache
	var redisWrapper *circuitbreaker.RedisWrapper
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
		redisWrapper = circuitbreaker.NewRedisWrapper(redisClient, logger)
	}
	embedder := embeddings.NewClient(cfg.Embedding, embedBreaker, redisWrapper, logger)

	hybrid := search.NewHybrid(qdrant, lexIndex, store, cfg.Search, logger)
	reranker := rerank.New(cfg.Rerank, logger)

	// Session memory is best-effort: a broken store disables injection but
	// never blocks startup
	var memStore *memory.Store
	var injector ask.Injector
	if cfg.Memory.SQLitePath != "" {
		memStore, err = memory.NewStore(cfg.Memory.SQLitePath, cfg.Memory.DecayLambdaPerDay, logger)
		if err != nil {
			logger.Warn("Memory store unavailable, continuing without session memory", zap.Error(err))
		} else {
			defer memStore.Close()
			injector = memory.NewInjector(memStore, cfg.Memory.TopK, cfg.Memory.TriggerThreshold, logger)
		}
	}

	// Expansion vocab and routing signals, hot-reloaded from disk
	expander := expand.New(logger)
	router := routing.New(cfg.Routing, logger)
	watcher, err := config.NewWatcher(logger)
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	if cfg.Expansion.VocabPath != "" {
		if err := watcher.Watch(cfg.Expansion.VocabPath, expander.Reload); err != nil {
			logger.Warn("Expansion vocab not loaded, queries pass through unexpanded", zap.Error(err))
		}
	}
	if cfg.Routing.SignalsPath != "" {
		if err := watcher.Watch(cfg.Routing.SignalsPath, router.Reload); err != nil {
			logger.Warn("Routing signals not loaded, using built-in defaults", zap.Error(err))
		}
	}
	watcher.Start()
	defer watcher.Stop()

	// Generation providers
	registry := generation.NewRegistry()
	for id, pcfg := range cfg.Generation.Providers {
		registry.Register(generation.NewHTTPProvider(id, pcfg, cfg.Generation.Timeout, genBreaker, logger))
		logger.Info("Registered generation provider",
			zap.String("provider", id), zap.String("model", pcfg.Model))
	}
	if len(cfg.Generation.Providers) == 0 {
		logger.Warn("No generation providers configured, every ask will degrade")
	}

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window,
	}, logger)

	orch := ask.New(limiter, expander, embedder, hybrid, reranker, injector, router, registry,
		ask.Options{
			TopKDefault:       cfg.Search.TopKDefault,
			KPoolMultiplier:   cfg.Search.KPoolMultiplier,
			DefaultThreshold:  cfg.Confidence.Threshold,
			ResponseCacheSize: cfg.Response.CacheMaxSize,
			ResponseCacheTTL:  cfg.Response.CacheTTL,
		}, logger)

	// Health checks: corpus and vector index gate readiness, the rest only
	// degrade
	checks := health.NewManager(logger)
	checks.Register(health.NewPingChecker("corpus", store, true))
	checks.Register(health.NewPingChecker("vectordb", qdrant, true))
	if memStore != nil {
		checks.Register(health.NewPingChecker("memory", memStore, false))
	}
	if redisClient != nil {
		checks.Register(health.NewFuncChecker("redis", false, func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}
	// Breaker state stands in for an embedder probe; a remote call per health
	// check would burn quota
	checks.Register(health.NewFuncChecker("embedding", false, func(ctx context.Context) error {
		if embedder.BreakerState() == circuitbreaker.StateOpen {
			return fmt.Errorf("embedding breaker open")
		}
		return nil
	}))
	providerChecks := make([]health.Availability, 0, len(cfg.Generation.Providers))
	for _, id := range registry.IDs() {
		p, err := registry.Get(id)
		if err != nil {
			continue
		}
		providerChecks = append(providerChecks, p)
	}
	if len(providerChecks) > 0 {
		checks.Register(health.NewGenerationChecker(providerChecks))
	}

	var memEndpoint httpapi.MemoryStore
	if memStore != nil {
		memEndpoint = memStore
	}
	api := httpapi.NewServer(orch, memEndpoint, embedder, checks, reindex, logger)
	apiServer := httpapi.NewHTTPServer(cfg.Server.Addr, api.Routes())

	var opsServer *http.Server
	if cfg.Server.OpsAddr != "" {
		opsMux := http.NewServeMux()
		opsMux.Handle("/metrics", promhttp.Handler())
		opsMux.HandleFunc("/health", api.Routes().ServeHTTP)
		opsServer = &http.Server{
			Addr:         cfg.Server.OpsAddr,
			Handler:      opsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Ops listener started", zap.String("addr", cfg.Server.OpsAddr))
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Ops listener failed", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("askd listening", zap.String("addr", cfg.Server.Addr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("api listener: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API shutdown incomplete", zap.Error(err))
	}
	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ops shutdown incomplete", zap.Error(err))
		}
	}
	return nil
}

// rebuildLexicalIndex streams the corpus into a fresh BM25 index and swaps it
// in atomically, so searches keep serving the old index during the scan.
func rebuildLexicalIndex(ctx context.Context, store *corpus.Store, idx *lexical.Index, logger *zap.Logger) error {
	start := time.Now()
	bld := lexical.NewBuilder()
	n := 0
	err := store.ScanAll(ctx, func(c corpus.Chunk) error {
		bld.Add(c.ID, c.SubDomain, c.Text)
		n++
		return nil
	})
	if err != nil {
		return err
	}
	idx.Swap(bld)
	logger.Info("Lexical index built",
		zap.Int("chunks", n), zap.Duration("elapsed", time.Since(start)))
	return nil
}
