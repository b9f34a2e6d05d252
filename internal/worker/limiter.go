package worker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter implements per-key rate limiting. Keys are provider names, so all
// calls to one vendor share a budget regardless of which stage makes them.
type Limiter struct {
	buckets sync.Map // key -> *rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewLimiter creates a new rate limiter. A non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{limit: limit, burst: burst}
}

// Wait blocks until a request for key may proceed
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.bucket(key).Wait(ctx)
}

// Allow takes a token for key if one is available, without waiting
func (l *Limiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	if b, ok := l.buckets.Load(key); ok {
		return b.(*rate.Limiter)
	}
	b, _ := l.buckets.LoadOrStore(key, rate.NewLimiter(l.limit, l.burst))
	return b.(*rate.Limiter)
}
