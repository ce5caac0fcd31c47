package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/mixmentor/mixmentor/internal/circuitbreaker"
)

func TestSearchParsesHitsAndFilter(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/collections/kb/points/search" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"result":[{"id":"chunk-1","score":0.91},{"id":42,"score":0.83}]}`))
	}))
	defer srv.Close()

	c := NewClientForURL(srv.URL, "kb", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t))
	hits, err := c.Search(context.Background(), []float32{0.1, 0.2}, 10, "mastering")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(hits) != 2 {
		t.Fatalf("Expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "chunk-1" || hits[0].Score != 0.91 {
		t.Errorf("Unexpected first hit %+v", hits[0])
	}
	if hits[1].ID != "42" {
		t.Errorf("Expected integer id coerced to string, got %q", hits[1].ID)
	}

	filter, ok := gotBody["filter"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected sub_domain filter in request body")
	}
	must := filter["must"].([]interface{})
	cond := must[0].(map[string]interface{})
	if cond["key"] != "sub_domain" {
		t.Errorf("Expected filter on sub_domain, got %v", cond["key"])
	}
}

func TestSearchOmitsFilterWhenUnscoped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["filter"]; ok {
			t.Error("Expected no filter for unscoped search")
		}
		w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	c := NewClientForURL(srv.URL, "kb", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t))
	if _, err := c.Search(context.Background(), []float32{0.1}, 5, ""); err != nil {
		t.Fatalf("Search: %v", err)
	}
}

func TestValidateDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"config":{"params":{"vectors":{"size":1536}}}}}`))
	}))
	defer srv.Close()

	c := NewClientForURL(srv.URL, "kb", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t))
	if err := c.ValidateDimensions(context.Background(), 1536); err != nil {
		t.Errorf("Expected match, got %v", err)
	}

	err := c.ValidateDimensions(context.Background(), 768)
	var dimErr *DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("Expected DimensionMismatchError, got %v", err)
	}
	if dimErr.Got != 1536 || dimErr.Want != 768 {
		t.Errorf("Unexpected mismatch detail %+v", dimErr)
	}
}

func TestSearchUnavailableOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClientForURL(srv.URL, "kb", circuitbreaker.DefaultConfig(), zaptest.NewLogger(t))
	_, err := c.Search(context.Background(), []float32{0.1}, 5, "")
	if !errors.Is(err, ErrVectorDBUnavailable) {
		t.Fatalf("Expected ErrVectorDBUnavailable, got %v", err)
	}
}
