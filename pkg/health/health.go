// Package health serves liveness and readiness probes.
//
// Every check runs on its own ticker. A check turns unhealthy after
// FailureThreshold consecutive failures and healthy again after
// SuccessThreshold consecutive passes, so a single slow ping does not flap
// the probe.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Default thresholds.
const (
	FailureThreshold = 3
	SuccessThreshold = 1
)

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// Owned by the goroutine calling run.
	fails, passes int
}

func (c *check) err() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

// run executes the check once. It reports whether health flipped.
func (c *check) run(ctx context.Context) (changed bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	was := c.healthy.Load()
	if err != nil {
		c.passes = 0
		c.fails++
		if c.fails >= FailureThreshold {
			c.healthy.Store(false)
		}
	} else {
		c.fails = 0
		c.passes++
		if c.passes >= SuccessThreshold {
			c.healthy.Store(true)
		}
	}
	return was != c.healthy.Load()
}

// Health aggregates the probes of the service. It starts not ready.
type Health struct {
	lg    *zap.Logger
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New creates a Health that logs probe transitions to lg.
func New(lg *zap.Logger) *Health {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Health{lg: lg}
}

func newCheck(name string, timeout time.Duration, fn CheckFunc) *check {
	c := &check{name: name, timeout: timeout, fn: fn}
	c.healthy.Store(true)
	return c
}

// AddLivenessCheck registers a check failing /livez.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newCheck(name, timeout, fn))
}

// AddReadinessCheck registers a check failing /readyz.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newCheck(name, timeout, fn))
}

// Start runs every registered check once immediately and then every
// interval, until Stop or ctx cancellation.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Concat(h.liveness, h.readiness)
	h.mu.Unlock()

	for _, c := range checks {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.loop(ctx, c, interval)
		}()
	}
}

func (h *Health) loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.run(ctx) {
			if c.healthy.Load() {
				h.lg.Info("Health check recovered", zap.String("check", c.name))
			} else {
				h.lg.Warn("Health check failing", zap.String("check", c.name), zap.Error(c.err()))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop halts the check goroutines and waits for them. Safe to call twice.
func (h *Health) Stop() {
	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// SetReady marks the service ready after startup, or not ready while
// draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	return h.ready.Load() && len(failures(h.snapshot(false))) == 0
}

func (h *Health) snapshot(live bool) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if live {
		return slices.Clone(h.liveness)
	}
	return slices.Clone(h.readiness)
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.snapshot(true)))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(false))
	if !h.ready.Load() {
		failed = append(failed, failure{name: "_readiness", message: "service is not ready"})
	}
	writeStatus(w, failed)
}

type failure struct {
	name    string
	message string
}

func failures(checks []*check) []failure {
	var out []failure
	for _, c := range checks {
		if c.healthy.Load() {
			continue
		}
		msg := "check is unhealthy"
		if err := c.err(); err != nil {
			msg = err.Error()
		}
		out = append(out, failure{name: c.name, message: msg})
	}
	return out
}

// writeStatus renders {"status":"ok"} or
// {"status":"unhealthy","checks":{"postgres":"..."}}.
func writeStatus(w http.ResponseWriter, failed []failure) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	status := http.StatusOK
	if len(failed) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, f := range failed {
			e.FieldStart(f.name)
			e.Str(f.message)
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
