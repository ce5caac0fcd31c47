package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap/zaptest"

	"github.com/mixmentor/mixmentor/internal/circuitbreaker"
	"github.com/mixmentor/mixmentor/internal/config"
)

func embedServer(t *testing.T, dim int, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var resp embedResponse
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = 3
			vec[1] = 4
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: vec, Index: i})
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, baseURL string, dim int) *Client {
	t.Helper()
	cfg := config.EmbeddingConfig{
		BaseURL:      baseURL,
		Model:        "test-model",
		Dim:          dim,
		Timeout:      2 * time.Second,
		CacheMaxSize: 16,
		CacheTTL:     time.Minute,
	}
	return NewClient(cfg, circuitbreaker.DefaultConfig(), nil, zaptest.NewLogger(t))
}

func TestFingerprintCanonicalization(t *testing.T) {
	// Same content modulo case, surrounding whitespace, and unicode form
	a := Fingerprint("  How do I EQ vocals?  ")
	b := Fingerprint("how do i eq vocals?")
	if a != b {
		t.Error("Expected case and whitespace variants to share a fingerprint")
	}

	// Composed vs decomposed form of é
	c := Fingerprint("café")
	d := Fingerprint("café")
	if c != d {
		t.Error("Expected NFC normalization to unify unicode forms")
	}

	if Fingerprint("reverb") == Fingerprint("delay") {
		t.Error("Expected distinct texts to differ")
	}
	if len(a) != 64 {
		t.Errorf("Expected hex sha256, got length %d", len(a))
	}
}

func TestEmbedOneNormalizesAndCaches(t *testing.T) {
	var calls int64
	srv := embedServer(t, 8, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 8)
	vec, err := c.EmbedOne(context.Background(), "warm the vocal bus")
	if err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}

	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("Expected unit vector, |v|^2 = %f", sum)
	}

	// Case variant hits the cache, no second upstream call
	if _, err := c.EmbedOne(context.Background(), "WARM THE VOCAL BUS"); err != nil {
		t.Fatalf("EmbedOne cached: %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("Expected 1 upstream call, got %d", n)
	}
}

func TestEmbedManyDimensionMismatch(t *testing.T) {
	var calls int64
	srv := embedServer(t, 8, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 1536)
	_, err := c.EmbedMany(context.Background(), []string{"x"})
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("Expected DimensionMismatchError, got %v", err)
	}
	if dimErr.Want != 1536 || dimErr.Got != 8 {
		t.Errorf("Unexpected mismatch detail: %+v", dimErr)
	}
}

func TestEmbedOneRedisL2SurvivesProcessRestart(t *testing.T) {
	var calls int64
	srv := embedServer(t, 8, &calls)
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	wrapper := circuitbreaker.NewRedisWrapper(rdb, zaptest.NewLogger(t))

	cfg := config.EmbeddingConfig{
		BaseURL:       srv.URL,
		Model:         "test-model",
		Dim:           8,
		Timeout:       2 * time.Second,
		CacheMaxSize:  16,
		CacheTTL:      time.Minute,
		RedisCacheTTL: time.Hour,
	}

	first := NewClient(cfg, circuitbreaker.DefaultConfig(), wrapper, zaptest.NewLogger(t))
	if _, err := first.EmbedOne(context.Background(), "sidechain the pad to the kick"); err != nil {
		t.Fatalf("EmbedOne: %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Fatalf("Expected 1 upstream call, got %d", n)
	}

	// A fresh client has an empty L1 but shares the Redis tier
	second := NewClient(cfg, circuitbreaker.DefaultConfig(), wrapper, zaptest.NewLogger(t))
	vec, err := second.EmbedOne(context.Background(), "sidechain the pad to the kick")
	if err != nil {
		t.Fatalf("EmbedOne via L2: %v", err)
	}
	if n := atomic.LoadInt64(&calls); n != 1 {
		t.Errorf("Expected L2 hit without an upstream call, got %d calls", n)
	}
	if len(vec) != 8 {
		t.Errorf("Expected 8-dim vector, got %d", len(vec))
	}
}

func TestEmbedOneUnavailableAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 8)
	for i := 0; i < 4; i++ {
		_, err := c.EmbedOne(context.Background(), "q"+string(rune('a'+i)))
		if err == nil {
			t.Fatal("Expected failure from 500 upstream")
		}
		if !errors.Is(err, ErrEmbeddingUnavailable) {
			t.Fatalf("Expected ErrEmbeddingUnavailable, got %v", err)
		}
	}
	// Breaker has opened by now; calls fail without a request
	if c.BreakerState() != circuitbreaker.StateOpen {
		t.Errorf("Expected open breaker, got %v", c.BreakerState())
	}
}
