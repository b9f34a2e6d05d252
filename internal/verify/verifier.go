// Package verify gets an independent second opinion on a computed score,
// falling back to a heuristic when the critique capability cannot help.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/ppiankov/gradeflow/internal/llm"
	"github.com/ppiankov/gradeflow/internal/model"
)

// DefaultWorkers bounds concurrent critique requests in a batch
const DefaultWorkers = 3

const (
	flagConfidence   = 0.7
	flagPercentage   = 30.0
	reviewPenalty    = 0.3
	extremePenalty   = 0.8
	consistencyBonus = 1.1
)

// VerificationError wraps a failed critique. It is logged and replaced by
// the fallback verification, never returned.
type VerificationError struct {
	ScriptID string
	Err      error
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verify script %s: %v", e.ScriptID, e.Err)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// Verifier critiques script evaluations
type Verifier struct {
	provider llm.Provider
	workers  int
	logger   *slog.Logger
}

// NewVerifier creates a Verifier. A nil provider always uses the fallback.
func NewVerifier(provider llm.Provider, workers int, logger *slog.Logger) *Verifier {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{provider: provider, workers: workers, logger: logger}
}

// Verify returns the critique's verdict on eval, or the heuristic fallback
// when the critique is unavailable or its reply cannot be used.
func (v *Verifier) Verify(ctx context.Context, eval *model.ScriptEvaluation, scheme *model.MarkingScheme, answers map[int]string) *model.Verification {
	if v.provider == nil {
		return Fallback(eval)
	}

	verification, err := v.critique(ctx, eval, scheme, answers)
	if err != nil {
		v.logger.Warn("critique failed, using fallback verification",
			"error", &VerificationError{ScriptID: eval.ScriptID, Err: err})
		return Fallback(eval)
	}

	v.logger.Debug("critique completed",
		"script_id", eval.ScriptID,
		"confidence", verification.Confidence,
		"flagged", verification.FlaggedForReview,
		"adjustments", len(verification.Adjustments),
	)
	return verification
}

func (v *Verifier) critique(ctx context.Context, eval *model.ScriptEvaluation, scheme *model.MarkingScheme, answers map[int]string) (*model.Verification, error) {
	req := llm.Request{
		System:      systemPrompt,
		Prompt:      buildPrompt(eval, scheme, answers),
		Schema:      VerificationSchema,
		Temperature: 0.1,
	}

	var reply critiqueReply
	if _, err := llm.GenerateJSON(ctx, v.provider, req, &reply); err != nil {
		return nil, err
	}

	notes := reply.Notes
	if notes == "" {
		notes = reply.Assessment
	}
	adjustments := reply.Adjustments
	if adjustments == nil {
		adjustments = []model.ScoreAdjustment{}
	}

	return &model.Verification{
		Verified:         reply.Verified,
		Confidence:       clamp01(reply.Confidence),
		Adjustments:      adjustments,
		FlaggedForReview: reply.FlaggedForReview,
		Notes:            notes,
		OriginalScore:    eval.TotalScore,
		SuggestedScore:   SuggestedTotal(eval.TotalScore, adjustments),
	}, nil
}

// SuggestedTotal is the total after applying every adjustment, or nil when
// there are none.
func SuggestedTotal(total float64, adjustments []model.ScoreAdjustment) *float64 {
	if len(adjustments) == 0 {
		return nil
	}
	for _, a := range adjustments {
		total = total - a.CurrentScore + a.SuggestedScore
	}
	return &total
}

// Fallback builds a verification from the evaluation alone
func Fallback(eval *model.ScriptEvaluation) *model.Verification {
	confidence := FallbackConfidence(eval)
	flagged := confidence < flagConfidence || eval.RequiresReview || eval.Percentage < flagPercentage

	notes := "Heuristic verification (critique unavailable). "
	if flagged {
		notes += "Flagged for manual review: low confidence or an unusual score pattern."
	} else {
		notes += "Scores look consistent with the evaluation confidence."
	}

	return &model.Verification{
		Verified:         !flagged,
		Confidence:       confidence,
		Adjustments:      []model.ScoreAdjustment{},
		FlaggedForReview: flagged,
		Notes:            notes,
		OriginalScore:    eval.TotalScore,
		Fallback:         true,
	}
}

// FallbackConfidence starts from the mean question confidence, or 0.5 with
// no questions, and scales it by the review ratio and score pattern.
func FallbackConfidence(eval *model.ScriptEvaluation) float64 {
	confidence := 0.5
	allConfident := true

	if n := len(eval.Questions); n > 0 {
		var sum float64
		needReview := 0
		for _, q := range eval.Questions {
			sum += q.OverallConfidence
			if q.NeedsReview {
				needReview++
			}
			if q.OverallConfidence <= flagConfidence {
				allConfident = false
			}
		}
		confidence = sum / float64(n)
		confidence *= 1 - float64(needReview)/float64(n)*reviewPenalty
	}

	if eval.Percentage < 10 || eval.Percentage > 95 {
		confidence *= extremePenalty
	}
	if allConfident {
		confidence = min(1.0, confidence*consistencyBonus)
	}
	return clamp01(confidence)
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
