package llm

import (
	"context"
	"log/slog"
	"time"
)

// LoggingProvider logs every call with its latency and token usage.
type LoggingProvider struct {
	inner  Provider
	logger *slog.Logger
}

// WithLogging wraps p with structured call logging.
func WithLogging(p Provider, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingProvider{inner: p, logger: logger}
}

func (l *LoggingProvider) Name() string { return l.inner.Name() }

func (l *LoggingProvider) IsAvailable(ctx context.Context) bool {
	return l.inner.IsAvailable(ctx)
}

func (l *LoggingProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)
	attrs := []any{
		"provider", l.inner.Name(),
		"images", len(req.Images),
		"duration", time.Since(start),
	}
	if req.Schema != nil {
		attrs = append(attrs, "schema", req.Schema.Name)
	}
	if err != nil {
		l.logger.Warn("llm call failed", append(attrs, "error", err)...)
		return nil, err
	}
	l.logger.Debug("llm call", append(attrs, "model", resp.Model, "tokens", resp.TokensUsed)...)
	return resp, nil
}
