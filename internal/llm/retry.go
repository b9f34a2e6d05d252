package llm

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/ppiankov/gradeflow/internal/model"
)

// RetryProvider is a decorator that retries transient errors with
// exponential backoff and jitter.
type RetryProvider struct {
	inner  Provider
	config model.RetryConfig
	sleep  func(ctx context.Context, d time.Duration) error
}

// WithRetry wraps a Provider with retry logic.
func WithRetry(p Provider, cfg model.RetryConfig) Provider {
	if cfg.MaxAttempts <= 1 {
		return p
	}
	return &RetryProvider{inner: p, config: cfg, sleep: sleepContext}
}

func (r *RetryProvider) Name() string { return r.inner.Name() }

func (r *RetryProvider) IsAvailable(ctx context.Context) bool { return r.inner.IsAvailable(ctx) }

func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	invalidRetried := false

	for attempt := range r.config.MaxAttempts {
		resp, err := r.inner.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !shouldRetry(err, &invalidRetried) {
			return nil, err
		}
		if attempt == r.config.MaxAttempts-1 {
			break
		}

		if err := r.sleep(ctx, Backoff(r.config, attempt, err)); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// shouldRetry retries transient errors, and an invalid response once.
func shouldRetry(err error, invalidRetried *bool) bool {
	var invResp *ErrInvalidResponse
	if errors.As(err, &invResp) {
		if *invalidRetried {
			return false
		}
		*invalidRetried = true
		return true
	}
	return IsTransient(err)
}

// Backoff computes the wait before the next attempt. A rate limit with a
// RetryAfter hint wins over the exponential schedule.
func Backoff(cfg model.RetryConfig, attempt int, err error) time.Duration {
	var rl *ErrRateLimit
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter
	}

	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	wait := float64(cfg.InitialWait) * math.Pow(multiplier, float64(attempt))
	if cfg.MaxWait > 0 && wait > float64(cfg.MaxWait) {
		wait = float64(cfg.MaxWait)
	}

	// ±20% jitter
	wait += wait * 0.2 * (2*rand.Float64() - 1)
	if wait < 0 {
		wait = 0
	}
	return time.Duration(wait)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
