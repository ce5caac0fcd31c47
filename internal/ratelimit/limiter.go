// Package ratelimit implements per-session sliding-window admission control.
// Rate limiting is the service's only back-pressure mechanism: denied
// requests fail hard at the boundary and are never retried internally.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/metrics"
)

// Config holds limiter configuration
type Config struct {
	MaxRequests int           // Requests allowed per window (default 30)
	Window      time.Duration // Window length (default 60s)
}

// DefaultConfig returns the default admission policy: 30 requests per minute.
func DefaultConfig() Config {
	return Config{MaxRequests: 30, Window: 60 * time.Second}
}

// Decision is the outcome of an admission check
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // Zero when allowed
}

// Limiter tracks a timestamp deque per session key. Amortized O(1) per admit:
// each timestamp is appended once and removed once.
type Limiter struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type window struct {
	mu    sync.Mutex
	times []time.Time // Oldest first
}

// NewLimiter creates a limiter with the given policy
func NewLimiter(cfg Config, logger *zap.Logger) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{
		cfg:     cfg,
		logger:  logger,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Admit records and admits a request for the session, or denies it with the
// time until the oldest in-window request expires.
func (l *Limiter) Admit(sessionID string) Decision {
	now := l.now()

	l.mu.Lock()
	w, ok := l.windows[sessionID]
	if !ok {
		w = &window{}
		l.windows[sessionID] = w
	}
	l.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	// Drop timestamps that fell out of the window
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = w.times[i:]
	}

	if len(w.times) >= l.cfg.MaxRequests {
		retryAfter := w.times[0].Add(l.cfg.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		metrics.RateLimitDenials.Inc()
		l.logger.Warn("Rate limit exceeded",
			zap.String("session_id", sessionID),
			zap.Duration("retry_after", retryAfter),
		)
		return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	w.times = append(w.times, now)
	return Decision{Allowed: true, Remaining: l.cfg.MaxRequests - len(w.times)}
}

// Limit returns the configured per-window maximum
func (l *Limiter) Limit() int { return l.cfg.MaxRequests }

// StartJanitor removes idle session windows every interval until stop closes.
func (l *Limiter) StartJanitor(interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-stop:
				return
			}
		}
	}()
}

func (l *Limiter) sweep() {
	cutoff := l.now().Add(-l.cfg.Window)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.windows {
		w.mu.Lock()
		idle := len(w.times) == 0 || !w.times[len(w.times)-1].After(cutoff)
		w.mu.Unlock()
		if idle {
			delete(l.windows, key)
		}
	}
}
