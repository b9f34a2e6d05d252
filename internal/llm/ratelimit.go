package llm

import (
	"context"

	"github.com/ppiankov/gradeflow/internal/worker"
)

// RateLimitedProvider waits on a shared limiter keyed by provider name
// before each request, so vision and critique traffic to one vendor share
// a budget.
type RateLimitedProvider struct {
	inner   Provider
	limiter *worker.Limiter
}

// WithRateLimit wraps p; a nil limiter returns p unchanged.
func WithRateLimit(p Provider, limiter *worker.Limiter) Provider {
	if limiter == nil {
		return p
	}
	return &RateLimitedProvider{inner: p, limiter: limiter}
}

func (r *RateLimitedProvider) Name() string { return r.inner.Name() }

func (r *RateLimitedProvider) IsAvailable(ctx context.Context) bool {
	return r.inner.IsAvailable(ctx)
}

func (r *RateLimitedProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx, r.inner.Name()); err != nil {
		return nil, err
	}
	return r.inner.Generate(ctx, req)
}
