package ratelimit

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func TestLimiterAdmitsUpToMax(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 30, Window: 60 * time.Second}, zaptest.NewLogger(t))
	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 30; i++ {
		if d := l.Admit("s1"); !d.Allowed {
			t.Fatalf("Request %d unexpectedly denied", i+1)
		}
	}

	// The 31st request in the window is denied with a retry hint
	d := l.Admit("s1")
	if d.Allowed {
		t.Fatal("Expected 31st request to be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 60*time.Second {
		t.Errorf("Expected retry-after within the window, got %v", d.RetryAfter)
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 2, Window: 10 * time.Second}, zaptest.NewLogger(t))
	base := time.Now()
	l.now = func() time.Time { return base }

	l.Admit("s1")
	l.Admit("s1")
	if d := l.Admit("s1"); d.Allowed {
		t.Fatal("Expected denial at capacity")
	}

	// After the window slides past the first request, one slot frees up
	l.now = func() time.Time { return base.Add(11 * time.Second) }
	if d := l.Admit("s1"); !d.Allowed {
		t.Fatal("Expected admission after the window slid")
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 1, Window: time.Minute}, zaptest.NewLogger(t))
	if d := l.Admit("a"); !d.Allowed {
		t.Fatal("Expected first request for a to pass")
	}
	if d := l.Admit("b"); !d.Allowed {
		t.Fatal("Expected first request for b to pass")
	}
	if d := l.Admit("a"); d.Allowed {
		t.Fatal("Expected second request for a to be denied")
	}
}

func TestLimiterSweepRemovesIdleKeys(t *testing.T) {
	l := NewLimiter(Config{MaxRequests: 5, Window: time.Second}, zaptest.NewLogger(t))
	base := time.Now()
	l.now = func() time.Time { return base }
	l.Admit("idle")

	l.now = func() time.Time { return base.Add(time.Minute) }
	l.sweep()

	l.mu.Lock()
	_, ok := l.windows["idle"]
	l.mu.Unlock()
	if ok {
		t.Error("Expected idle session window to be removed")
	}
}
