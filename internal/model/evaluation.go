package model

import "time"

// ConceptEvaluation is the score of one concept within one answer
type ConceptEvaluation struct {
	Concept         string  `json:"concept"`
	SimilarityScore float64 `json:"similarity_score"`
	MarksAwarded    float64 `json:"marks_awarded"`
	MaxMarks        float64 `json:"max_marks"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
}

// QuestionEvaluation is the score of one question
type QuestionEvaluation struct {
	Number            int                 `json:"question_number"`
	Score             float64             `json:"score"`
	MaxScore          float64             `json:"max_score"`
	Concepts          []ConceptEvaluation `json:"concept_breakdown"`
	OverallConfidence float64             `json:"overall_confidence"`
	NeedsReview       bool                `json:"needs_review"`
	ReviewReasons     []string            `json:"review_reasons"`
}

// ReviewReason classifies why a script was routed to a human
type ReviewReason string

const (
	ReasonLowConfidence   ReviewReason = "low_confidence"
	ReasonBelowPassing    ReviewReason = "below_passing"
	ReasonOCRErrors       ReviewReason = "ocr_errors"
	ReasonGeminiFlag      ReviewReason = "gemini_flag" // external verification flag
	ReasonProcessingError ReviewReason = "processing_error"
)

// ScoreAdjustment is a suggested per-question change from verification
type ScoreAdjustment struct {
	QuestionNumber int     `json:"question_number"`
	CurrentScore   float64 `json:"current_score"`
	SuggestedScore float64 `json:"suggested_score"`
	Reason         string  `json:"reason"`
}

// Verification is an independent critique of a computed score
type Verification struct {
	Verified         bool              `json:"verified"`
	Confidence       float64           `json:"confidence_score"`
	Adjustments      []ScoreAdjustment `json:"suggested_adjustments"`
	FlaggedForReview bool              `json:"flagged_for_review"`
	Notes            string            `json:"verification_notes"`
	OriginalScore    float64           `json:"original_score"`
	SuggestedScore   *float64          `json:"suggested_score,omitempty"`
	Fallback         bool              `json:"fallback"` // produced by the heuristic path
}

// ScriptEvaluation is the full score of one script
type ScriptEvaluation struct {
	ID               string               `json:"id"`
	ScriptID         string               `json:"script_id"`
	SessionID        string               `json:"session_id"`
	TotalScore       float64              `json:"total_score"`
	MaxPossibleScore float64              `json:"max_possible_score"`
	Percentage       float64              `json:"percentage"`
	Questions        []QuestionEvaluation `json:"question_scores"`
	RequiresReview   bool                 `json:"requires_manual_review"`
	ReviewReasons    []ReviewReason       `json:"review_reasons"`
	Verification     *Verification        `json:"verification,omitempty"`
	ManualOverride   map[int]float64      `json:"manual_override,omitempty"`
	EvaluatedAt      time.Time            `json:"evaluated_at"`
}

// Percentage returns 100*total/max, or 0 when max is not positive
func Percentage(total, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return total / max * 100
}

// StudentAnswers maps question number to the raw extracted text
func StudentAnswers(questions []ExtractedQuestion) map[int]string {
	answers := make(map[int]string, len(questions))
	for _, q := range questions {
		if _, ok := answers[q.Number]; !ok {
			answers[q.Number] = q.RawText
		}
	}
	return answers
}
