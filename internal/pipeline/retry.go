package pipeline

import (
	"context"
	"time"

	"github.com/ppiankov/gradeflow/internal/llm"
	"github.com/ppiankov/gradeflow/internal/model"
)

// RetryPolicy repeats a stage after transient capability failures (rate
// limits, unavailable providers). Every stage runs under the same policy.
type RetryPolicy struct {
	config  model.RetryConfig
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a RetryPolicy. MaxAttempts below 1 means a single
// attempt.
func NewRetryPolicy(cfg model.RetryConfig, metrics *Metrics) *RetryPolicy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryPolicy{config: cfg, metrics: metrics, sleep: sleepContext}
}

// Do runs fn until it succeeds, fails permanently or runs out of attempts
func (p *RetryPolicy) Do(ctx context.Context, stage State, fn func(ctx context.Context) StageResult) StageResult {
	var result StageResult
	for attempt := 0; attempt < p.config.MaxAttempts; attempt++ {
		if attempt > 0 {
			p.metrics.incRetry(stage)
			wait := llm.Backoff(p.config, attempt-1, result.Err)
			if err := p.sleep(ctx, wait); err != nil {
				return result
			}
		}
		result = fn(ctx)
		if result.OK() || !llm.IsTransient(result.Err) {
			return result
		}
	}
	return result
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
