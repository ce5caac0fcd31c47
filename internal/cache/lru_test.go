package cache

import (
	"testing"
	"time"
)

func TestCachePutGet(t *testing.T) {
	c := New[string](4, time.Minute)
	c.Put("a", "1")
	v, ok := c.Get("a")
	if !ok || v != "1" {
		t.Fatalf("Expected hit with value 1, got %q ok=%v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Expected miss for unknown key")
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := New[int](2, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	// Touch a so b becomes the eviction candidate
	c.Get("a")
	c.Put("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("Expected b to be evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected a to survive eviction")
	}
	if c.Size() != 2 {
		t.Errorf("Expected size 2, got %d", c.Size())
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New[int](4, 10*time.Second)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put("a", 1)

	c.now = func() time.Time { return base.Add(11 * time.Second) }
	if _, ok := c.Get("a"); ok {
		t.Error("Expected expired entry to be a miss")
	}
	if c.Size() != 0 {
		t.Errorf("Expected expired entry removed on read, size=%d", c.Size())
	}
}

func TestCacheEvictExpired(t *testing.T) {
	c := New[int](8, 10*time.Second)
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Put("a", 1)
	c.Put("b", 2)

	c.now = func() time.Time { return base.Add(5 * time.Second) }
	c.Put("c", 3)

	c.now = func() time.Time { return base.Add(12 * time.Second) }
	if n := c.EvictExpired(); n != 2 {
		t.Errorf("Expected 2 evictions, got %d", n)
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("Expected c to survive the sweep")
	}
}

func TestCacheClear(t *testing.T) {
	c := New[int](4, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Expected empty cache after Clear, size=%d", c.Size())
	}
}
