package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func newLimited(limit int, clock *fakeClock) http.Handler {
	l := NewLimiter(RateLimitConfig{Max: limit, Window: time.Minute, Now: clock.Now})
	return l.Middleware()(okHandler())
}

func TestRateLimit_UnderLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	h := newLimited(3, clock)

	for i, want := range []string{"2", "1", "0"} {
		w := hit(h, "192.168.1.1:12345")
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}
}

func TestRateLimit_OverLimit(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	h := newLimited(2, clock)

	for range 2 {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:9999").Code)
	}

	w := hit(h, "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.EqualValues(t, 429, body["code"])
	assert.Equal(t, "rate limit exceeded", body["message"])
}

func TestRateLimit_IndependentKeys(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	h := newLimited(1, clock)

	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234").Code)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:5678").Code, "port is not part of the key")
}

func TestRateLimit_SlidingWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	h := newLimited(4, clock)

	for range 4 {
		require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1").Code)

	// A quarter into the next window three quarters of the previous count
	// still apply: 4*0.75 = 3, leaving room for exactly one request.
	clock.Advance(75 * time.Second)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1").Code)

	// Two idle windows reset the key.
	clock.Advance(3 * time.Minute)
	for range 4 {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	}
}

func TestRateLimit_CustomKeyBehindProxy(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	l := NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute, Now: clock.Now})
	h := chimw.RealIP(l.Middleware()(okHandler()))

	req := func(remote string) int {
		r := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
		r.RemoteAddr = remote
		r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, req("192.168.1.1:4444"))
	assert.Equal(t, http.StatusTooManyRequests, req("192.168.1.2:5555"), "keyed by forwarded client")
}

func TestRateLimit_Disabled(t *testing.T) {
	l := NewLimiter(RateLimitConfig{})
	h := l.Middleware()(okHandler())
	for range 10 {
		assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	}
}

func TestLimiter_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	l := NewLimiter(RateLimitConfig{Max: 1, Window: time.Minute, Now: clock.Now})

	l.Allow("a")
	clock.Advance(time.Minute)
	l.Allow("b")
	clock.Advance(90 * time.Second)
	l.Sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.keys, "a")
	assert.Contains(t, l.keys, "b")
}
