package score

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ppiankov/gradeflow/internal/extract"
	"github.com/ppiankov/gradeflow/internal/model"
)

const (
	confidenceThreshold   = 0.7
	extractionThreshold   = 0.6
	scriptConfidenceFloor = 0.6
)

// Question review reasons
const (
	ReasonNoAnswer       = "No answer provided"
	ReasonEmptyAnswer    = "Empty answer"
	ReasonLowConfidence  = "Low evaluation confidence"
	ReasonDuplicate      = "Duplicate content detected"
	ReasonIncomplete     = "Incomplete answer detected"
	ReasonPoorExtraction = "Poor OCR quality"
)

// ScriptScorer scores a whole script against a scheme
type ScriptScorer struct {
	concepts *ConceptScorer
	logger   *slog.Logger
}

// NewScriptScorer creates a ScriptScorer
func NewScriptScorer(concepts *ConceptScorer, logger *slog.Logger) *ScriptScorer {
	if logger == nil {
		logger = slog.Default()
	}
	if concepts == nil {
		concepts = NewConceptScorer(nil, logger)
	}
	return &ScriptScorer{concepts: concepts, logger: logger}
}

// Evaluate scores questions against scheme. The result carries no id or
// timestamp so that identical input gives an identical evaluation.
func (s *ScriptScorer) Evaluate(ctx context.Context, questions []model.ExtractedQuestion, scheme *model.MarkingScheme) *model.ScriptEvaluation {
	eval := &model.ScriptEvaluation{
		MaxPossibleScore: scheme.TotalMarks,
		Questions:        make([]model.QuestionEvaluation, 0, len(scheme.Questions)),
	}

	for _, sq := range scheme.Questions {
		var qe model.QuestionEvaluation
		if extracted, ok := findQuestion(questions, sq.Number); ok {
			qe = s.evaluateQuestion(ctx, extracted, sq)
		} else {
			qe = zeroQuestion(sq, ReasonNoAnswer)
		}
		eval.Questions = append(eval.Questions, qe)
		eval.TotalScore += qe.Score
	}

	eval.Percentage = model.Percentage(eval.TotalScore, scheme.TotalMarks)
	eval.ReviewReasons = reviewReasons(eval.Questions, eval.Percentage, scheme.PassingMarks)
	eval.RequiresReview = len(eval.ReviewReasons) > 0

	s.logger.Info("evaluation completed",
		"score", eval.TotalScore,
		"max", eval.MaxPossibleScore,
		"percentage", eval.Percentage,
		"requires_review", eval.RequiresReview,
	)
	return eval
}

func findQuestion(questions []model.ExtractedQuestion, number int) (model.ExtractedQuestion, bool) {
	for _, q := range questions {
		if q.Number == number {
			return q, true
		}
	}
	return model.ExtractedQuestion{}, false
}

// zeroQuestion is a confident zero: the answer is known to be missing
func zeroQuestion(sq model.SchemeQuestion, reason string) model.QuestionEvaluation {
	return model.QuestionEvaluation{
		Number:            sq.Number,
		MaxScore:          sq.MaxMarks,
		Concepts:          []model.ConceptEvaluation{},
		OverallConfidence: 1.0,
		ReviewReasons:     []string{reason},
	}
}

func (s *ScriptScorer) evaluateQuestion(ctx context.Context, eq model.ExtractedQuestion, sq model.SchemeQuestion) model.QuestionEvaluation {
	answer := extract.NormalizeInline(mergedAnswer(eq))
	if strings.TrimSpace(answer) == "" {
		return zeroQuestion(sq, ReasonEmptyAnswer)
	}

	concepts := make([]model.ConceptEvaluation, 0, len(sq.Concepts))
	var total, confidenceSum float64
	for _, c := range sq.Concepts {
		ce := s.concepts.Score(ctx, answer, c)
		concepts = append(concepts, ce)
		total += ce.MarksAwarded
		confidenceSum += ce.Confidence
	}

	var overall float64
	if len(concepts) > 0 {
		overall = confidenceSum / float64(len(concepts))
	}

	var reasons []string
	if overall < confidenceThreshold {
		reasons = append(reasons, ReasonLowConfidence)
	}
	if eq.HasDuplicate {
		reasons = append(reasons, ReasonDuplicate)
	}
	if !eq.IsComplete {
		reasons = append(reasons, ReasonIncomplete)
	}
	if eq.Confidence < extractionThreshold {
		reasons = append(reasons, ReasonPoorExtraction)
	}

	return model.QuestionEvaluation{
		Number:            sq.Number,
		Score:             min(total, sq.MaxMarks),
		MaxScore:          sq.MaxMarks,
		Concepts:          concepts,
		OverallConfidence: overall,
		NeedsReview:       len(reasons) > 0,
		ReviewReasons:     reasons,
	}
}

// mergedAnswer prefers the fragments and falls back to the raw text for
// questions recorded without fragments.
func mergedAnswer(eq model.ExtractedQuestion) string {
	if len(eq.Fragments) == 0 {
		return eq.RawText
	}
	texts := make([]string, len(eq.Fragments))
	for i, f := range eq.Fragments {
		texts[i] = f.Text
	}
	return extract.MergeFragments(texts)
}

func reviewReasons(questions []model.QuestionEvaluation, percentage, passing float64) []model.ReviewReason {
	var reasons []model.ReviewReason

	var confidenceSum float64
	anyNeedsReview := false
	for _, q := range questions {
		anyNeedsReview = anyNeedsReview || q.NeedsReview
		confidenceSum += q.OverallConfidence
	}

	if anyNeedsReview {
		reasons = append(reasons, model.ReasonLowConfidence)
	}
	if percentage < passing {
		reasons = append(reasons, model.ReasonBelowPassing)
	}
	var mean float64
	if len(questions) > 0 {
		mean = confidenceSum / float64(len(questions))
	}
	if mean < scriptConfidenceFloor {
		reasons = append(reasons, model.ReasonOCRErrors)
	}
	return reasons
}

// Recalculate applies manual per-question scores to a copy of eval. Adjusted
// questions get confidence 1.0 and lose their review flags; their concept
// breakdown is kept for audit. Totals are summed again from scratch and the
// script no longer requires review.
func Recalculate(eval *model.ScriptEvaluation, adjustments map[int]float64) *model.ScriptEvaluation {
	updated := *eval
	updated.Questions = make([]model.QuestionEvaluation, len(eval.Questions))
	updated.TotalScore = 0

	for i, q := range eval.Questions {
		if score, ok := adjustments[q.Number]; ok {
			q.Score = score
			q.OverallConfidence = 1.0
			q.NeedsReview = false
			q.ReviewReasons = nil
		}
		updated.Questions[i] = q
		updated.TotalScore += q.Score
	}

	updated.Percentage = model.Percentage(updated.TotalScore, updated.MaxPossibleScore)
	updated.RequiresReview = false
	updated.ReviewReasons = nil

	// Only scores that landed on a question are recorded as overrides.
	updated.ManualOverride = make(map[int]float64, len(eval.ManualOverride)+len(adjustments))
	for _, q := range eval.Questions {
		if v, ok := eval.ManualOverride[q.Number]; ok {
			updated.ManualOverride[q.Number] = v
		}
		if v, ok := adjustments[q.Number]; ok {
			updated.ManualOverride[q.Number] = v
		}
	}
	return &updated
}
