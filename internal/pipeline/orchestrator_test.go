package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/gradeflow/internal/extract"
	"github.com/ppiankov/gradeflow/internal/llm"
	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/notify"
	"github.com/ppiankov/gradeflow/internal/score"
	"github.com/ppiankov/gradeflow/internal/store"
	"github.com/ppiankov/gradeflow/internal/verify"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeExtractor returns canned results per image path. Errors listed in
// transient are returned once each before the result.
type fakeExtractor struct {
	mu        sync.Mutex
	results   map[string]*extract.Result
	errs      map[string]error
	transient map[string][]error
	calls     map[string]int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		results:   make(map[string]*extract.Result),
		errs:      make(map[string]error),
		transient: make(map[string][]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeExtractor) Extract(_ context.Context, path string) (*extract.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[path]++
	if queued := f.transient[path]; len(queued) > 0 {
		f.transient[path] = queued[1:]
		return nil, queued[0]
	}
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	if r, ok := f.results[path]; ok {
		return r, nil
	}
	return nil, &extract.ExtractionError{ImagePath: path, Err: extract.ErrImageNotFound}
}

type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e notify.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) stages(scriptID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.ScriptID == scriptID {
			out = append(out, e.Stage)
		}
	}
	return out
}

type panicScorer struct{}

func (panicScorer) Evaluate(context.Context, []model.ExtractedQuestion, *model.MarkingScheme) *model.ScriptEvaluation {
	panic("index out of range")
}

type panicVerifier struct{}

func (panicVerifier) Verify(context.Context, *model.ScriptEvaluation, *model.MarkingScheme, map[int]string) *model.Verification {
	panic("nil critique reply")
}

type fixture struct {
	store     *store.Store
	extractor *fakeExtractor
	sink      *recordingSink
	metrics   *Metrics
	registry  *prometheus.Registry
	session   *model.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	scheme := &model.MarkingScheme{
		Name:         "Data structures",
		TotalMarks:   20,
		PassingMarks: 40,
		Questions: []model.SchemeQuestion{
			{Number: 1, MaxMarks: 10, Concepts: []model.Concept{{Name: "Binary tree", Keywords: []string{"tree", "node"}, Weight: 1, MarksAllocation: 10}}},
			{Number: 2, MaxMarks: 10, Concepts: []model.Concept{{Name: "Hash table", Keywords: []string{"hash", "bucket"}, Weight: 1, MarksAllocation: 10}}},
		},
	}
	require.NoError(t, s.SaveScheme(ctx, scheme))
	session := &model.Session{Name: "Morning", SchemeID: scheme.ID}
	require.NoError(t, s.CreateSession(ctx, session))

	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	return &fixture{
		store:     s,
		extractor: newFakeExtractor(),
		sink:      &recordingSink{},
		metrics:   metrics,
		registry:  reg,
		session:   session,
	}
}

func (f *fixture) orchestrator(retry model.RetryConfig) *Orchestrator {
	return NewOrchestrator(Deps{
		Repository: f.store,
		Extractor:  f.extractor,
		Scorer:     score.NewScriptScorer(score.NewConceptScorer(nil, quiet), quiet),
		Verifier:   verify.NewVerifier(nil, 0, quiet),
		Sink:       f.sink,
		Metrics:    f.metrics,
		Retry:      retry,
		Workers:    2,
		Logger:     quiet,
	})
}

func (f *fixture) addScript(t *testing.T, image string) *model.Script {
	t.Helper()
	script := &model.Script{SessionID: f.session.ID, StudentName: image, ImagePath: image}
	require.NoError(t, f.store.CreateScript(context.Background(), script))
	return script
}

func answered(confidence float64) *extract.Result {
	q := func(n int, text string) model.ExtractedQuestion {
		return model.ExtractedQuestion{
			Number:     n,
			RawText:    text,
			Fragments:  []model.Fragment{{Text: text, Confidence: confidence, Page: 1}},
			IsComplete: true,
			Confidence: confidence,
		}
	}
	return &extract.Result{
		Questions: []model.ExtractedQuestion{
			q(1, "A binary tree stores each value in a node with at most two children, the tree is ordered"),
			q(2, "A hash table maps keys to a bucket using a hash function"),
		},
		Confidence: confidence,
	}
}

func TestRunPipeline_Completes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "ada.png")
	f.extractor.results["ada.png"] = answered(0.9)

	run, err := f.orchestrator(model.RetryConfig{}).RunPipeline(ctx, script.ID)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, 100, run.Progress)
	assert.Nil(t, run.Failure)
	require.NotNil(t, run.Evaluation)
	assert.NotEmpty(t, run.Evaluation.ID)
	assert.Equal(t, script.ID, run.Evaluation.ScriptID)
	assert.False(t, run.FinishedAt.Before(run.StartedAt))

	assert.Equal(t,
		[]string{"extracting", "scoring", "verifying", "review_check", "completed"},
		f.sink.stages(script.ID))
	var got []int
	for _, e := range f.sink.events {
		got = append(got, e.Progress)
	}
	assert.Equal(t, []int{20, 60, 80, 90, 100}, got)

	stored, err := f.store.GetScript(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScriptCompleted, stored.Status)
	assert.NotNil(t, stored.ProcessedAt)
	assert.InDelta(t, 0.9, stored.ExtractionConfidence, 1e-9)
	assert.Len(t, stored.Questions, 2)

	eval, err := f.store.GetEvaluationByScript(ctx, script.ID)
	require.NoError(t, err)
	require.NotNil(t, eval.Verification)
	assert.True(t, eval.Verification.Fallback)
	assert.Equal(t, run.Evaluation.TotalScore, eval.TotalScore)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.ProcessedCount)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.runs.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.runsActive))
}

func TestRunPipeline_ExtractionFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "blank.png")
	f.extractor.errs["blank.png"] = &extract.ExtractionError{ImagePath: "blank.png", Err: extract.ErrZeroConfidence}

	run, err := f.orchestrator(model.RetryConfig{MaxAttempts: 3}).RunPipeline(ctx, script.ID)
	require.Error(t, err)
	assert.True(t, IsFailure(err, FailureExtraction))
	assert.ErrorIs(t, err, extract.ErrZeroConfidence)
	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StateExtracting, run.Failure.Stage)

	// permanent errors are not retried
	assert.Equal(t, 1, f.extractor.calls["blank.png"])

	stored, err := f.store.GetScript(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScriptFailed, stored.Status)
	require.Len(t, stored.Errors, 1)
	assert.Contains(t, stored.Errors[0], "zero")

	_, err = f.store.GetEvaluationByScript(ctx, script.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, []string{"extracting", "failed"}, f.sink.stages(script.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.stageFailures.WithLabelValues("extracting", "extraction")))
}

func TestRunPipeline_ZeroConfidenceFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "faint.png")
	f.extractor.results["faint.png"] = answered(0)

	run, err := f.orchestrator(model.RetryConfig{}).RunPipeline(ctx, script.ID)
	require.Error(t, err)
	assert.True(t, IsFailure(err, FailureExtraction))
	assert.ErrorIs(t, err, extract.ErrZeroConfidence)
	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StateExtracting, run.Failure.Stage)

	stored, err := f.store.GetScript(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScriptFailed, stored.Status)
	_, err = f.store.GetEvaluationByScript(ctx, script.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunPipeline_ScriptNotFound(t *testing.T) {
	f := newFixture(t)

	run, err := f.orchestrator(model.RetryConfig{}).RunPipeline(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsFailure(err, FailureNotFound))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, StateFailed, run.State)
	assert.Equal(t, StateQueued, run.Failure.Stage)
}

func TestRunPipeline_ScorerPanicFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "ada.png")
	f.extractor.results["ada.png"] = answered(0.9)

	o := f.orchestrator(model.RetryConfig{})
	o.scorer = panicScorer{}

	_, err := o.RunPipeline(ctx, script.ID)
	require.Error(t, err)
	assert.True(t, IsFailure(err, FailureScoring))

	stored, err := f.store.GetScript(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ScriptFailed, stored.Status)
	// extraction output was recorded before scoring started
	assert.Len(t, stored.Questions, 2)
}

func TestRunPipeline_VerifierPanicUsesFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "ada.png")
	f.extractor.results["ada.png"] = answered(0.9)

	o := f.orchestrator(model.RetryConfig{})
	o.verifier = panicVerifier{}

	run, err := o.RunPipeline(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, run.State)
	require.NotNil(t, run.Evaluation.Verification)
	assert.True(t, run.Evaluation.Verification.Fallback)

	stored, err := f.store.GetEvaluationByScript(ctx, script.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Verification)
	assert.True(t, stored.Verification.Fallback)
}

func TestRunPipeline_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	script := f.addScript(t, "ada.png")
	f.extractor.results["ada.png"] = answered(0.9)
	f.extractor.transient["ada.png"] = []error{&extract.ExtractionError{
		ImagePath: "ada.png",
		Err:       &llm.ErrProviderUnavailable{Err: errors.New("503")},
	}}

	run, err := f.orchestrator(model.RetryConfig{MaxAttempts: 2}).RunPipeline(context.Background(), script.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, run.State)
	assert.Equal(t, 2, f.extractor.calls["ada.png"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.stageRetries.WithLabelValues("extracting")))
}

func TestRunPipeline_NoRetryByDefault(t *testing.T) {
	f := newFixture(t)
	script := f.addScript(t, "ada.png")
	f.extractor.results["ada.png"] = answered(0.9)
	f.extractor.transient["ada.png"] = []error{&llm.ErrRateLimit{}}

	_, err := f.orchestrator(model.RetryConfig{}).RunPipeline(context.Background(), script.ID)
	require.Error(t, err)
	assert.True(t, IsFailure(err, FailureExtraction))
	assert.Equal(t, 1, f.extractor.calls["ada.png"])
}

func TestRunPipeline_SinkErrorsAreSwallowed(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("redis down")
	script := f.addScript(t, "ada.png")
	f.extractor.results["ada.png"] = answered(0.9)

	run, err := f.orchestrator(model.RetryConfig{}).RunPipeline(context.Background(), script.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, run.State)
}

func TestRunPipeline_LowExtractionConfidenceCreatesReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "smudged.png")
	f.extractor.results["smudged.png"] = answered(0.5)

	run, err := f.orchestrator(model.RetryConfig{}).RunPipeline(ctx, script.ID)
	require.NoError(t, err)

	// review pending does not block completion
	assert.Equal(t, StateCompleted, run.State)
	require.NotNil(t, run.Review)
	assert.Equal(t, model.ReasonOCRErrors, run.Review.Reason)
	assert.Equal(t, model.PriorityMedium, run.Review.Priority)
	assert.Equal(t, run.Evaluation.ID, run.Review.EvaluationID)

	pending, err := f.store.ListReviews(ctx, model.ReviewPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, script.ID, pending[0].ScriptID)
}

func TestRunBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, img := range []string{"a.png", "b.png", "c.png"} {
		f.addScript(t, img)
	}
	f.extractor.results["a.png"] = answered(0.9)
	f.extractor.results["b.png"] = answered(0.8)

	o := f.orchestrator(model.RetryConfig{})
	summary, err := o.RunBatch(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, summary.Errors, 1)

	// only the failed script is picked up again
	f.extractor.results["c.png"] = answered(0.9)
	summary, err = o.RunBatch(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)

	done, err := f.store.ListScripts(ctx, f.session.ID, model.ScriptCompleted)
	require.NoError(t, err)
	assert.Len(t, done, 3)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, session.ProcessedCount)
}

func TestRunBatch_SkipsClaimedScripts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	held := f.addScript(t, "a.png")
	f.addScript(t, "b.png")
	f.extractor.results["b.png"] = answered(0.9)

	ok, err := f.store.ClaimScript(ctx, held.ID)
	require.NoError(t, err)
	require.True(t, ok)

	summary, err := f.orchestrator(model.RetryConfig{}).RunBatch(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 0, f.extractor.calls["a.png"])
}

func TestRunBatch_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.orchestrator(model.RetryConfig{}).RunBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecalculateAfterManualReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "ada.png")
	f.extractor.results["ada.png"] = answered(0.9)

	o := f.orchestrator(model.RetryConfig{})
	run, err := o.RunPipeline(ctx, script.ID)
	require.NoError(t, err)
	q2 := run.Evaluation.Questions[1].Score

	updated, err := o.RecalculateAfterManualReview(ctx, script.ID, map[int]float64{1: 9})
	require.NoError(t, err)
	assert.InDelta(t, 9+q2, updated.TotalScore, 1e-9)
	assert.InDelta(t, (9+q2)/20*100, updated.Percentage, 1e-9)
	assert.False(t, updated.RequiresReview)
	assert.Equal(t, run.Evaluation.ID, updated.ID)

	stored, err := f.store.GetEvaluationByScript(ctx, script.ID)
	require.NoError(t, err)
	assert.InDelta(t, updated.TotalScore, stored.TotalScore, 1e-9)
	assert.Equal(t, 9.0, stored.ManualOverride[1])
}

func TestRerunKeepsEvaluationID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "ada.png")
	f.extractor.results["ada.png"] = answered(0.9)

	o := f.orchestrator(model.RetryConfig{})
	first, err := o.RunPipeline(ctx, script.ID)
	require.NoError(t, err)
	second, err := o.RunPipeline(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Evaluation.ID, second.Evaluation.ID)
}

func TestRerunDoesNotRepeatReviewOrCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "smudged.png")
	f.extractor.results["smudged.png"] = answered(0.5)

	o := f.orchestrator(model.RetryConfig{})
	first, err := o.RunPipeline(ctx, script.ID)
	require.NoError(t, err)
	require.NotNil(t, first.Review)
	second, err := o.RunPipeline(ctx, script.ID)
	require.NoError(t, err)
	require.NotNil(t, second.Review)
	assert.Equal(t, first.Review.ID, second.Review.ID)

	pending, err := f.store.ListReviews(ctx, model.ReviewPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.ProcessedCount)
}

func TestRerunKeepsManualScores(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	script := f.addScript(t, "ada.png")
	f.extractor.results["ada.png"] = answered(0.9)

	o := f.orchestrator(model.RetryConfig{})
	_, err := o.RunPipeline(ctx, script.ID)
	require.NoError(t, err)
	manual, err := o.RecalculateAfterManualReview(ctx, script.ID, map[int]float64{1: 2})
	require.NoError(t, err)

	run, err := o.RunPipeline(ctx, script.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, run.Evaluation.Questions[0].Score)
	assert.Equal(t, 2.0, run.Evaluation.ManualOverride[1])
	assert.InDelta(t, manual.TotalScore, run.Evaluation.TotalScore, 1e-9)

	session, err := f.store.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, session.ProcessedCount)
}

func TestNewMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewMetrics(reg)
	require.NoError(t, err)
	b, err := NewMetrics(reg)
	require.NoError(t, err)

	a.incRetry(StateScoring)
	b.incRetry(StateScoring)
	assert.Equal(t, 2.0, testutil.ToFloat64(a.stageRetries.WithLabelValues("scoring")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.runStarted()
	m.incFailure(StateExtracting, FailureExtraction)
	m.runFinished(StateFailed)
}
