package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter wraps rate.Limiter to provide a simpler interface. A nil *Limiter
// never blocks.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter creates a new token bucket limiter.
// r: tokens per second.
// b: burst size.
func NewLimiter(r float64, b int) *Limiter {
	return &Limiter{
		inner: rate.NewLimiter(rate.Limit(r), b),
	}
}

// NewPerMinute creates a limiter refilling perMinute tokens each minute with a
// burst of one minute's worth. It returns nil when perMinute is not positive.
func NewPerMinute(perMinute int) *Limiter {
	if perMinute <= 0 {
		return nil
	}
	return NewLimiter(float64(perMinute)/time.Minute.Seconds(), perMinute)
}

// Allow reports whether an event with weight n may happen at time now.
func (l *Limiter) Allow(n int) bool {
	if l == nil {
		return true
	}
	return l.inner.AllowN(time.Now(), n)
}

// Wait blocks until n tokens are available. Requests larger than the burst
// wait for a full burst instead of failing.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if l == nil {
		return ctx.Err()
	}
	if b := l.inner.Burst(); n > b {
		n = b
	}
	return l.inner.WaitN(ctx, n)
}
