// Package score grades extracted answers against a marking scheme.
package score

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/similarity"
)

const (
	minSimilarityForMarks = 0.3
	absentConfidence      = 0.8
	maxConfidence         = 0.95
	maxKeywordBonus       = 0.2
)

// Similarity scores two texts in [0,1]
type Similarity interface {
	Similarity(ctx context.Context, a, b string) (float64, similarity.Method, error)
}

// ConceptScoringError is a failure to score one concept. It is recorded in
// the evaluation's reasoning and never returned to callers.
type ConceptScoringError struct {
	Concept string
	Err     error
}

func (e *ConceptScoringError) Error() string {
	return fmt.Sprintf("score concept %q: %v", e.Concept, e.Err)
}

func (e *ConceptScoringError) Unwrap() error { return e.Err }

// ConceptScorer scores an answer against one concept
type ConceptScorer struct {
	similarity Similarity
	logger     *slog.Logger
}

// NewConceptScorer creates a ConceptScorer. A nil sim scores by keyword
// overlap only.
func NewConceptScorer(sim Similarity, logger *slog.Logger) *ConceptScorer {
	if logger == nil {
		logger = slog.Default()
	}
	if sim == nil {
		sim = similarity.NewService(nil, logger)
	}
	return &ConceptScorer{similarity: sim, logger: logger}
}

// ConceptDescription is the text an answer is compared with
func ConceptDescription(c model.Concept) string {
	return fmt.Sprintf("%s. Key terms: %s", c.Name, strings.Join(c.Keywords, ", "))
}

// Score evaluates answer against concept. It never fails: a similarity error
// yields a zero-mark, zero-confidence evaluation explaining the error.
func (s *ConceptScorer) Score(ctx context.Context, answer string, concept model.Concept) model.ConceptEvaluation {
	sim, _, err := s.similarity.Similarity(ctx, answer, ConceptDescription(concept))
	if err != nil {
		s.logger.Warn("concept scoring failed", "error", &ConceptScoringError{Concept: concept.Name, Err: err})
		return model.ConceptEvaluation{
			Concept:   concept.Name,
			MaxMarks:  concept.MarksAllocation,
			Reasoning: fmt.Sprintf("Error evaluating concept: %v", err),
		}
	}

	final := min(1.0, clamp01(sim)+KeywordBonus(answer, concept.Keywords))

	var marks, confidence float64
	if final < minSimilarityForMarks {
		confidence = absentConfidence
	} else {
		marks = concept.MarksAllocation * MarksRatio(final)
		confidence = min(maxConfidence, 0.5+final*0.5)
	}

	return model.ConceptEvaluation{
		Concept:         concept.Name,
		SimilarityScore: final,
		MarksAwarded:    marks,
		MaxMarks:        concept.MarksAllocation,
		Confidence:      confidence,
		Reasoning:       reasoning(concept.Name, final, marks, concept.MarksAllocation),
	}
}

// KeywordBonus is up to 0.2 in proportion to the keywords contained in text,
// compared case-insensitively as substrings.
func KeywordBonus(text string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matched := 0
	for _, k := range keywords {
		if strings.Contains(lower, strings.ToLower(k)) {
			matched++
		}
	}
	return min(maxKeywordBonus, float64(matched)/float64(len(keywords))*maxKeywordBonus)
}

// MarksRatio maps similarity to the fraction of marks awarded. The scale
// steps at understanding thresholds instead of growing linearly.
func MarksRatio(sim float64) float64 {
	switch {
	case sim < 0.3:
		return 0
	case sim < 0.5:
		return 0.2
	case sim < 0.7:
		return 0.5
	case sim < 0.85:
		return 0.75
	default:
		return 1.0
	}
}

func reasoning(concept string, sim, awarded, maxMarks float64) string {
	pct := model.Percentage(awarded, maxMarks)
	switch {
	case sim < 0.3:
		return fmt.Sprintf("No clear evidence of understanding '%s' concept.", concept)
	case sim < 0.5:
		return fmt.Sprintf("Basic mention of '%s' concept detected. Limited understanding shown. (%.0f%% of marks)", concept, pct)
	case sim < 0.7:
		return fmt.Sprintf("Moderate understanding of '%s' concept demonstrated. (%.0f%% of marks)", concept, pct)
	case sim < 0.85:
		return fmt.Sprintf("Good understanding of '%s' concept with relevant details. (%.0f%% of marks)", concept, pct)
	default:
		return fmt.Sprintf("Excellent understanding of '%s' concept with comprehensive explanation. (%.0f%% of marks)", concept, pct)
	}
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
