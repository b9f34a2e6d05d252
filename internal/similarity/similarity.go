// Package similarity scores how close two texts are, by embedding cosine
// when a semantic model is available and by keyword Jaccard otherwise.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
)

// Method names which primitive produced a score
type Method string

const (
	MethodEmbedding Method = "embedding"
	MethodKeyword   Method = "keyword"
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("similarity service closed")

// Service is the similarity primitive. It is constructed once at bootstrap,
// opened before use and closed at shutdown.
type Service struct {
	embedder Embedder
	logger   *slog.Logger

	mu     sync.RWMutex
	opened bool
	closed bool
}

// NewService creates a Service. A nil embedder means keyword-only scoring.
func NewService(embedder Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embedder: embedder, logger: logger}
}

// Open prepares the service. A failing probe of the embedder downgrades the
// service to keyword mode instead of failing.
func (s *Service) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return nil
	}

	if s.embedder != nil {
		if _, err := s.embedder.Embed(ctx, "ready"); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("semantic model unavailable, using keyword similarity", "error", err)
			s.embedder = nil
		}
	}

	s.opened = true
	return nil
}

// Close releases cached vectors. The service cannot be reopened.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.embedder.(interface{ Purge() }); ok {
		p.Purge()
	}
	s.embedder = nil
	s.closed = true
	return nil
}

// Semantic reports whether embedding similarity is in use
func (s *Service) Semantic() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opened && s.embedder != nil
}

// Similarity returns a score in [0,1]. Embedding failures fall back to
// keyword Jaccard; only a finished context or a closed service is an error.
func (s *Service) Similarity(ctx context.Context, a, b string) (float64, Method, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	s.mu.RLock()
	embedder := s.embedder
	opened, closed := s.opened, s.closed
	s.mu.RUnlock()

	if closed {
		return 0, "", ErrClosed
	}

	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return 0, MethodKeyword, nil
	}

	if opened && embedder != nil {
		score, err := embeddingSimilarity(ctx, embedder, a, b)
		if err == nil {
			return score, MethodEmbedding, nil
		}
		if ctx.Err() != nil {
			return 0, "", ctx.Err()
		}
		s.logger.Warn("embedding similarity failed, using keyword fallback", "error", err)
	}

	return clamp01(Jaccard(a, b)), MethodKeyword, nil
}

func embeddingSimilarity(ctx context.Context, e Embedder, a, b string) (float64, error) {
	vectors, err := e.Embed(ctx, a, b)
	if err != nil {
		return 0, err
	}
	if len(vectors) != 2 {
		return 0, fmt.Errorf("expected 2 vectors, got %d", len(vectors))
	}
	score, err := Cosine(vectors[0], vectors[1])
	if err != nil {
		return 0, err
	}
	return clamp01(score), nil
}

// Cosine returns the cosine similarity of two vectors of equal length
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("empty vectors")
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
