package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// Pinger is anything that can verify its backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails while p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// GoroutineCountCheck fails once more than threshold goroutines are running,
// which usually means requests are leaking.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
