package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/worker"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(ctx context.Context, config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "gemini":
		return NewGeminiProvider(ctx, config)

	case "ollama":
		return NewOllamaProvider(config)

	case "mock":
		return NewMockProvider(), nil

	case "":
		// No provider configured - return nil (capability disabled)
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, gemini, ollama)", config.Provider)
	}
}

// Middleware bundles the decorators applied around a base provider.
type Middleware struct {
	Retry   model.RetryConfig
	Limiter *worker.Limiter
	Logger  *slog.Logger
}

// Wrap applies middleware: caller -> retry -> rate limit -> logging -> base.
func (m Middleware) Wrap(p Provider) Provider {
	if p == nil {
		return nil
	}
	p = WithLogging(p, m.Logger)
	p = WithRateLimit(p, m.Limiter)
	return WithRetry(p, m.Retry)
}

// NewFromModel builds a wrapped provider for one role from the app config.
// A nil provider with nil error means the role is disabled.
func NewFromModel(ctx context.Context, cfg Config, mw Middleware) (Provider, error) {
	base, err := NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}
	return mw.Wrap(base), nil
}
