package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RateLimitConfig configures the sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window. Zero disables limiting.
	Max    int
	Window time.Duration
	// Key groups requests. Defaults to the client IP from RemoteAddr; put
	// chi's RealIP in front when running behind a proxy.
	Key func(r *http.Request) string
	// Now defaults to time.Now.
	Now func() time.Time
}

type window struct {
	start    time.Time
	count    float64
	previous float64
}

// Limiter counts requests per key over two adjacent fixed windows, weighting
// the previous one by its overlap with the sliding window.
type Limiter struct {
	cfg RateLimitConfig

	mu   sync.Mutex
	keys map[string]*window
}

// NewLimiter creates a Limiter. Call Middleware to install it.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.Key == nil {
		cfg.Key = remoteIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{cfg: cfg, keys: make(map[string]*window)}
}

// Allow records a request for key and reports whether it fits the limit,
// with the remaining budget and the end of the current window.
func (l *Limiter) Allow(key string) (allowed bool, remaining int, reset time.Time) {
	now := l.cfg.Now()
	size := l.cfg.Window

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.keys[key]
	if !ok {
		w = &window{start: now.Truncate(size)}
		l.keys[key] = w
	}
	switch elapsed := now.Sub(w.start); {
	case elapsed >= 2*size:
		w.start, w.count, w.previous = now.Truncate(size), 0, 0
	case elapsed >= size:
		w.start, w.count, w.previous = w.start.Add(size), 0, w.count
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(size)
	used := w.previous*overlap + w.count
	reset = w.start.Add(size)
	if used >= float64(l.cfg.Max) {
		return false, 0, reset
	}
	w.count++
	return true, max(0, int(float64(l.cfg.Max)-used-1)), reset
}

// Sweep drops keys idle for two windows.
func (l *Limiter) Sweep() {
	now := l.cfg.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.keys {
		if now.Sub(w.start) >= 2*l.cfg.Window {
			delete(l.keys, k)
		}
	}
}

// Run sweeps idle keys every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	if l.cfg.Window <= 0 {
		return
	}
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// Middleware answers 429 once a key exceeds its budget. Every response
// carries the X-RateLimit-* headers.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		if l.cfg.Max <= 0 || l.cfg.Window <= 0 {
			return next
		}
		limit := strconv.Itoa(l.cfg.Max)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := l.cfg.Key(r)
			allowed, remaining, reset := l.Allow(key)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				retry := max(0, reset.Sub(l.cfg.Now()))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				zctx.From(r.Context()).Debug("Rate limited", zap.String("key", key))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
