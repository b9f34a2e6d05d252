package verify

import (
	"fmt"
	"strings"

	"github.com/ppiankov/gradeflow/internal/llm"
	"github.com/ppiankov/gradeflow/internal/model"
)

const maxAnswerRunes = 500

const systemPrompt = `You are an experienced examiner reviewing marks produced by an automated grader.
Judge whether each score is consistent with the marking scheme and the student's answer.
Be fair: suggest an adjustment only when a score is clearly too high or too low.`

// VerificationSchema is the reply shape for a score critique
var VerificationSchema = &llm.Schema{
	Name:        "score_verification",
	Description: "Independent critique of an automatically computed exam score",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"verified":           map[string]any{"type": "boolean"},
			"confidence_score":   map[string]any{"type": "number", "minimum": 0, "maximum": 1},
			"overall_assessment": map[string]any{"type": "string"},
			"question_feedback": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question_number":      map[string]any{"type": "integer"},
						"ai_score_appropriate": map[string]any{"type": "boolean"},
						"reasoning":            map[string]any{"type": "string"},
					},
					"required": []string{"question_number", "ai_score_appropriate"},
				},
			},
			"suggested_adjustments": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question_number": map[string]any{"type": "integer"},
						"current_score":   map[string]any{"type": "number"},
						"suggested_score": map[string]any{"type": "number"},
						"reason":          map[string]any{"type": "string"},
					},
					"required": []string{"question_number", "current_score", "suggested_score"},
				},
			},
			"flagged_for_review": map[string]any{"type": "boolean"},
			"verification_notes": map[string]any{"type": "string"},
		},
		"required": []string{"verified", "confidence_score", "flagged_for_review"},
	},
}

type questionFeedback struct {
	QuestionNumber int    `json:"question_number"`
	Appropriate    bool   `json:"ai_score_appropriate"`
	Reasoning      string `json:"reasoning"`
}

type critiqueReply struct {
	Verified         bool                    `json:"verified"`
	Confidence       float64                 `json:"confidence_score"`
	Assessment       string                  `json:"overall_assessment"`
	Feedback         []questionFeedback      `json:"question_feedback"`
	Adjustments      []model.ScoreAdjustment `json:"suggested_adjustments"`
	FlaggedForReview bool                    `json:"flagged_for_review"`
	Notes            string                  `json:"verification_notes"`
}

// buildPrompt lays out the scheme, the computed scores and the student text
// for each question.
func buildPrompt(eval *model.ScriptEvaluation, scheme *model.MarkingScheme, answers map[int]string) string {
	var b strings.Builder

	b.WriteString("MARKING SCHEME\n")
	fmt.Fprintf(&b, "Subject: %s\nTotal marks: %g\nPassing marks: %g\n\n", scheme.Subject, scheme.TotalMarks, scheme.PassingMarks)
	for _, q := range scheme.Questions {
		fmt.Fprintf(&b, "Question %d (max %g marks)\n", q.Number, q.MaxMarks)
		for _, c := range q.Concepts {
			fmt.Fprintf(&b, "- %s (%g marks)", c.Name, c.MarksAllocation)
			if len(c.Keywords) > 0 {
				fmt.Fprintf(&b, " key terms: %s", strings.Join(c.Keywords, ", "))
			}
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString("COMPUTED EVALUATION\n")
	fmt.Fprintf(&b, "Total: %g/%g (%.1f%%)\n\n", eval.TotalScore, eval.MaxPossibleScore, eval.Percentage)
	for _, q := range eval.Questions {
		text, ok := answers[q.Number]
		if !ok || strings.TrimSpace(text) == "" {
			text = "No answer provided"
		}
		fmt.Fprintf(&b, "Question %d\n", q.Number)
		fmt.Fprintf(&b, "Student answer: %s\n", truncate(text, maxAnswerRunes))
		fmt.Fprintf(&b, "Score: %g/%g (%.1f%%)\n", q.Score, q.MaxScore, model.Percentage(q.Score, q.MaxScore))
		fmt.Fprintf(&b, "Confidence: %.2f\n\n", q.OverallConfidence)
	}

	b.WriteString(`TASK
Check each question's score against the scheme. Consider whether key concepts were
recognised, whether marks match answer quality and whether anything is over- or
under-scored. List adjustments only for questions whose score should change.
Set flagged_for_review when a human examiner should look at this script.`)
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
