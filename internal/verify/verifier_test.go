package verify

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/gradeflow/internal/llm"
	"github.com/ppiankov/gradeflow/internal/model"
)

func testScheme() *model.MarkingScheme {
	return &model.MarkingScheme{
		Subject:      "Biology",
		TotalMarks:   20,
		PassingMarks: 40,
		Questions: []model.SchemeQuestion{
			{Number: 1, MaxMarks: 10, Concepts: []model.Concept{{Name: "Photosynthesis", Keywords: []string{"light", "chlorophyll"}, MarksAllocation: 10}}},
			{Number: 2, MaxMarks: 10, Concepts: []model.Concept{{Name: "Respiration", Keywords: []string{"glucose"}, MarksAllocation: 10}}},
		},
	}
}

func testEvaluation(total float64, confidences ...float64) *model.ScriptEvaluation {
	eval := &model.ScriptEvaluation{
		ScriptID:         "script-1",
		TotalScore:       total,
		MaxPossibleScore: 20,
		Percentage:       model.Percentage(total, 20),
	}
	for i, c := range confidences {
		eval.Questions = append(eval.Questions, model.QuestionEvaluation{
			Number:            i + 1,
			Score:             total / float64(len(confidences)),
			MaxScore:          10,
			OverallConfidence: c,
		})
	}
	return eval
}

func TestVerify_Critique(t *testing.T) {
	provider := llm.NewMockProvider(llm.MockJSON(map[string]any{
		"verified":         false,
		"confidence_score": 0.75,
		"suggested_adjustments": []map[string]any{
			{"question_number": 1, "current_score": 6, "suggested_score": 8, "reason": "chlorophyll role explained"},
		},
		"flagged_for_review": true,
		"verification_notes": "Question 1 is under-scored.",
	}))
	v := NewVerifier(provider, 0, nil)

	eval := testEvaluation(12, 0.8, 0.8)
	got := v.Verify(context.Background(), eval, testScheme(), map[int]string{1: "light and chlorophyll"})

	assert.False(t, got.Fallback)
	assert.False(t, got.Verified)
	assert.True(t, got.FlaggedForReview)
	assert.InDelta(t, 0.75, got.Confidence, 1e-9)
	assert.Equal(t, "Question 1 is under-scored.", got.Notes)
	assert.Equal(t, 12.0, got.OriginalScore)
	require.Len(t, got.Adjustments, 1)
	assert.Equal(t, 1, got.Adjustments[0].QuestionNumber)
	require.NotNil(t, got.SuggestedScore)
	assert.InDelta(t, 14.0, *got.SuggestedScore, 1e-9)

	require.Equal(t, 1, provider.CallCount())
	req := provider.Calls[0]
	assert.Equal(t, VerificationSchema, req.Schema)
	assert.Contains(t, req.Prompt, "Subject: Biology")
	assert.Contains(t, req.Prompt, "Student answer: light and chlorophyll")
	assert.Contains(t, req.Prompt, "Student answer: No answer provided")
}

func TestVerify_NoAdjustments(t *testing.T) {
	provider := llm.NewMockProvider(llm.MockJSON(map[string]any{
		"verified":           true,
		"confidence_score":   0.9,
		"flagged_for_review": false,
		"overall_assessment": "Consistent with the scheme.",
	}))
	got := NewVerifier(provider, 0, nil).Verify(context.Background(), testEvaluation(15, 0.9, 0.9), testScheme(), nil)

	assert.True(t, got.Verified)
	assert.Nil(t, got.SuggestedScore)
	assert.Empty(t, got.Adjustments)
	assert.Equal(t, "Consistent with the scheme.", got.Notes)
}

func TestVerify_FallbackPaths(t *testing.T) {
	tests := []struct {
		name     string
		provider llm.Provider
	}{
		{"no provider", nil},
		{"unavailable", llm.NewMockProvider()},
		{"provider error", llm.NewMockProvider(llm.MockResponse{Err: errors.New("boom")})},
		{"unparseable", llm.NewMockProvider(llm.MockResponse{Content: []byte("I think the marks are fine")})},
		{"schema violation", llm.NewMockProvider(llm.MockJSON(map[string]any{
			"verified": true, "confidence_score": 3.5, "flagged_for_review": false,
		}))},
		{"missing fields", llm.NewMockProvider(llm.MockJSON(map[string]any{"verified": true}))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := testEvaluation(12, 0.9, 0.9)
			got := NewVerifier(tt.provider, 0, nil).Verify(context.Background(), eval, testScheme(), nil)

			require.NotNil(t, got)
			assert.True(t, got.Fallback)
			assert.Equal(t, Fallback(eval), got)
		})
	}
}

func TestVerify_RepairsMalformedJSON(t *testing.T) {
	provider := llm.NewMockProvider(llm.MockResponse{
		Content: []byte("```json\n{\"verified\": true, \"confidence_score\": 0.8, \"flagged_for_review\": false,}\n```"),
	})
	got := NewVerifier(provider, 0, nil).Verify(context.Background(), testEvaluation(12, 0.9), testScheme(), nil)

	assert.False(t, got.Fallback)
	assert.True(t, got.Verified)
}

func TestFallbackConfidence(t *testing.T) {
	tests := []struct {
		name string
		eval *model.ScriptEvaluation
		want float64
	}{
		{"confident", testEvaluation(12, 0.9, 0.8), 0.85 * 1.1},
		{"review penalty", func() *model.ScriptEvaluation {
			e := testEvaluation(10, 0.6, 0.8)
			e.Questions[0].NeedsReview = true
			return e
		}(), 0.7 * 0.85},
		{"extreme score", testEvaluation(1, 0.9), 0.9 * 0.8 * 1.1},
		{"bonus capped", testEvaluation(12, 1.0, 1.0), 1.0},
		{"no questions", testEvaluation(0), 0.5 * 0.8 * 1.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FallbackConfidence(tt.eval), 1e-9)
		})
	}
}

func TestFallback_Flagging(t *testing.T) {
	confident := Fallback(testEvaluation(12, 0.9, 0.8))
	assert.False(t, confident.FlaggedForReview)
	assert.True(t, confident.Verified)
	assert.Nil(t, confident.SuggestedScore)

	lowScore := Fallback(testEvaluation(4, 0.9, 0.9))
	assert.True(t, lowScore.FlaggedForReview, "percentage below 30 must flag")
	assert.False(t, lowScore.Verified)

	needsReview := testEvaluation(12, 0.9, 0.9)
	needsReview.RequiresReview = true
	assert.True(t, Fallback(needsReview).FlaggedForReview)

	lowConfidence := Fallback(testEvaluation(12, 0.5, 0.5))
	assert.True(t, lowConfidence.FlaggedForReview)
	assert.True(t, strings.HasPrefix(lowConfidence.Notes, "Heuristic verification"))
}

// slowProvider records how many requests run at once
type slowProvider struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     bool
}

func (p *slowProvider) Name() string                     { return "slow" }
func (p *slowProvider) IsAvailable(context.Context) bool { return true }

func (p *slowProvider) Generate(ctx context.Context, _ llm.Request) (*llm.Response, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	if p.fail {
		return nil, &llm.ErrProviderUnavailable{}
	}
	return &llm.Response{Content: []byte(`{"verified":true,"confidence_score":0.9,"flagged_for_review":false}`)}, nil
}

func TestVerifyBatch(t *testing.T) {
	provider := &slowProvider{}
	v := NewVerifier(provider, 2, nil)

	var jobs []Job
	for i := 0; i < 8; i++ {
		jobs = append(jobs, Job{Evaluation: testEvaluation(float64(i), 0.9), Scheme: testScheme()})
	}

	results := v.VerifyBatch(context.Background(), jobs)

	require.Len(t, results, len(jobs))
	for i, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, float64(i), r.OriginalScore, "results must stay in job order")
		assert.False(t, r.Fallback)
	}
	assert.LessOrEqual(t, provider.peak.Load(), int32(2))
}

func TestVerifyBatch_FailuresDegradeToFallback(t *testing.T) {
	v := NewVerifier(&slowProvider{fail: true}, 3, nil)

	jobs := []Job{
		{Evaluation: testEvaluation(10, 0.9), Scheme: testScheme()},
		{Evaluation: testEvaluation(15, 0.8), Scheme: testScheme()},
	}
	results := v.VerifyBatch(context.Background(), jobs)

	for i, r := range results {
		assert.True(t, r.Fallback)
		assert.Equal(t, jobs[i].Evaluation.TotalScore, r.OriginalScore)
	}
}
