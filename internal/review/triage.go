// Package review routes doubtful evaluations to a human and applies the
// human's verdict.
package review

import (
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/gradeflow/internal/model"
)

const (
	extractionThreshold = 0.6
	highPriorityBelow   = 0.4
	lowScorePercentage  = 30.0
)

// NeedsReview reports whether any of the three review triggers holds
func NeedsReview(eval *model.ScriptEvaluation, v *model.Verification, extractionConfidence float64) bool {
	return eval.RequiresReview ||
		(v != nil && v.FlaggedForReview) ||
		extractionConfidence < extractionThreshold
}

// Reason picks the single reason recorded on a review entry. The first
// matching rule wins.
func Reason(eval *model.ScriptEvaluation, v *model.Verification, extractionConfidence float64) model.ReviewReason {
	switch {
	case extractionConfidence < extractionThreshold:
		return model.ReasonOCRErrors
	case v != nil && v.FlaggedForReview:
		return model.ReasonGeminiFlag
	case eval.Percentage < lowScorePercentage:
		return model.ReasonBelowPassing
	default:
		return model.ReasonLowConfidence
	}
}

// Priority is HIGH for very poor extraction and MEDIUM otherwise. LOW is
// never assigned.
func Priority(extractionConfidence float64) model.ReviewPriority {
	if extractionConfidence < highPriorityBelow {
		return model.PriorityHigh
	}
	return model.PriorityMedium
}

// Decide returns a new pending review entry, or nil when the script does not
// need one.
func Decide(eval *model.ScriptEvaluation, v *model.Verification, extractionConfidence float64) *model.ReviewEntry {
	if !NeedsReview(eval, v, extractionConfidence) {
		return nil
	}
	return &model.ReviewEntry{
		ID:            uuid.NewString(),
		ScriptID:      eval.ScriptID,
		EvaluationID:  eval.ID,
		Reason:        Reason(eval, v, extractionConfidence),
		Priority:      Priority(extractionConfidence),
		Status:        model.ReviewPending,
		OriginalScore: eval.TotalScore,
		FlaggedAt:     time.Now().UTC(),
	}
}
