// Package notify delivers pipeline progress events. Delivery is best effort:
// callers log publish errors and carry on.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Event is one progress update of a script's pipeline run
type Event struct {
	ScriptID  string         `json:"script_id"`
	Stage     string         `json:"stage"`
	Progress  int            `json:"progress"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives progress events
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// LogSink writes events to a logger
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, e Event) error {
	attrs := []any{"script_id", e.ScriptID, "stage", e.Stage, "progress", e.Progress}
	for k, v := range e.Detail {
		attrs = append(attrs, k, v)
	}
	s.logger.InfoContext(ctx, "pipeline progress", attrs...)
	return nil
}

// MultiSink publishes to every sink and joins their errors
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
