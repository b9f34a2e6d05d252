package extract

import (
	"context"

	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/similarity"
)

// Similarity scores two texts in [0,1]
type Similarity interface {
	Similarity(ctx context.Context, a, b string) (float64, similarity.Method, error)
}

// MarkDuplicates compares every pair of questions and flags both sides of
// each pair whose answers score at or above threshold. It returns the number
// of flagged pairs.
func MarkDuplicates(ctx context.Context, sim Similarity, questions []model.ExtractedQuestion, threshold float64) (int, error) {
	pairs := 0
	for i := 0; i < len(questions); i++ {
		for j := i + 1; j < len(questions); j++ {
			score, _, err := sim.Similarity(ctx, questions[i].RawText, questions[j].RawText)
			if err != nil {
				return pairs, err
			}
			if score >= threshold {
				questions[i].HasDuplicate = true
				questions[j].HasDuplicate = true
				pairs++
			}
		}
	}
	return pairs, nil
}
