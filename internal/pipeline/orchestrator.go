// Package pipeline runs a script through extraction, scoring, verification and
// review triage, recording each stage's output before the next one starts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/gradeflow/internal/extract"
	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/notify"
	"github.com/ppiankov/gradeflow/internal/review"
	"github.com/ppiankov/gradeflow/internal/score"
	"github.com/ppiankov/gradeflow/internal/store"
	"github.com/ppiankov/gradeflow/internal/verify"
)

// Repository is the durable storage the orchestrator reads and writes
type Repository interface {
	GetScript(ctx context.Context, id string) (*model.Script, error)
	UpdateScript(ctx context.Context, script *model.Script) error
	ListScripts(ctx context.Context, sessionID string, statuses ...model.ScriptStatus) ([]*model.Script, error)
	ClaimScript(ctx context.Context, id string) (bool, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	IncrementProcessed(ctx context.Context, sessionID string) error
	GetScheme(ctx context.Context, id string) (*model.MarkingScheme, error)
	SaveEvaluation(ctx context.Context, eval *model.ScriptEvaluation) error
	GetEvaluationByScript(ctx context.Context, scriptID string) (*model.ScriptEvaluation, error)
	CreateReview(ctx context.Context, entry *model.ReviewEntry) error
	OpenReviewByScript(ctx context.Context, scriptID string) (*model.ReviewEntry, error)
}

// Extractor recovers per-question text from a script image
type Extractor interface {
	Extract(ctx context.Context, imagePath string) (*extract.Result, error)
}

// Scorer grades extracted questions against a scheme
type Scorer interface {
	Evaluate(ctx context.Context, questions []model.ExtractedQuestion, scheme *model.MarkingScheme) *model.ScriptEvaluation
}

// Verifier produces a second opinion on an evaluation. It never fails.
type Verifier interface {
	Verify(ctx context.Context, eval *model.ScriptEvaluation, scheme *model.MarkingScheme, answers map[int]string) *model.Verification
}

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Repository Repository
	Extractor  Extractor
	Scorer     Scorer
	Verifier   Verifier
	Sink       notify.Sink // nil drops progress events
	Metrics    *Metrics    // nil records nothing
	Retry      model.RetryConfig
	Workers    int
	Logger     *slog.Logger
}

// Orchestrator runs scripts through the pipeline stages
type Orchestrator struct {
	repo      Repository
	extractor Extractor
	scorer    Scorer
	verifier  Verifier
	sink      notify.Sink
	metrics   *Metrics
	retry     *RetryPolicy
	workers   int
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Sink == nil {
		deps.Sink = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Workers < 1 {
		deps.Workers = 1
	}
	return &Orchestrator{
		repo:      deps.Repository,
		extractor: deps.Extractor,
		scorer:    deps.Scorer,
		verifier:  deps.Verifier,
		sink:      deps.Sink,
		metrics:   deps.Metrics,
		retry:     NewRetryPolicy(deps.Retry, deps.Metrics),
		workers:   deps.Workers,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run is one script's pass through the pipeline. It lives only for the
// duration of RunPipeline and is never persisted.
type Run struct {
	ID         string
	ScriptID   string
	State      State
	Progress   int
	StartedAt  time.Time
	FinishedAt time.Time
	Evaluation *model.ScriptEvaluation
	Review     *model.ReviewEntry // nil when no review was needed
	Failure    *RunError

	script     *model.Script
	scheme     *model.MarkingScheme
	extraction *extract.Result
}

type stage struct {
	state State
	kind  FailureKind // reported when the stage panics
	run   func(ctx context.Context, r *Run) StageResult
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{StateExtracting, FailureExtraction, o.extractStage},
		{StateScoring, FailureScoring, o.scoreStage},
		{StateVerifying, FailurePersistence, o.verifyStage},
		{StateReviewCheck, FailurePersistence, o.reviewStage},
	}
}

// RunPipeline processes one script. The caller must make sure no other run
// is active for the same script (see RunBatch and store.ClaimScript). A run
// that ends in FAILED returns the Run together with a *RunError.
func (o *Orchestrator) RunPipeline(ctx context.Context, scriptID string) (*Run, error) {
	r := &Run{
		ID:        uuid.NewString(),
		ScriptID:  scriptID,
		State:     StateQueued,
		StartedAt: o.now(),
	}
	o.metrics.runStarted()
	logger := o.logger.With("script_id", scriptID, "run_id", r.ID)
	logger.Info("pipeline started")

	if res := o.load(ctx, r); !res.OK() {
		return o.fail(ctx, r, res)
	}

	for _, st := range o.stages() {
		o.enter(ctx, r, st.state, nil)

		start := time.Now()
		res := o.retry.Do(ctx, st.state, func(ctx context.Context) StageResult {
			return o.guard(ctx, r, st)
		})
		status := "ok"
		if !res.OK() {
			status = "failed"
		}
		o.metrics.observeStage(st.state, status, time.Since(start))

		if !res.OK() {
			return o.fail(ctx, r, res)
		}
	}

	if res := o.complete(ctx, r); !res.OK() {
		return o.fail(ctx, r, res)
	}

	detail := map[string]any{
		"total_score": r.Evaluation.TotalScore,
		"percentage":  r.Evaluation.Percentage,
		"review":      r.Review != nil,
	}
	o.enter(ctx, r, StateCompleted, detail)
	r.FinishedAt = o.now()
	o.metrics.runFinished(StateCompleted)
	logger.Info("pipeline completed",
		"score", r.Evaluation.TotalScore,
		"percentage", r.Evaluation.Percentage,
		"review", r.Review != nil,
		"duration", r.FinishedAt.Sub(r.StartedAt))
	return r, nil
}

// guard turns a panicking stage into a failure of the stage's kind
func (o *Orchestrator) guard(ctx context.Context, r *Run, st stage) (res StageResult) {
	defer func() {
		if p := recover(); p != nil {
			res = failed(st.kind, fmt.Errorf("%s panicked: %v", st.state, p))
		}
	}()
	return st.run(ctx, r)
}

// load resolves the script, its session and its scheme
func (o *Orchestrator) load(ctx context.Context, r *Run) StageResult {
	script, err := o.repo.GetScript(ctx, r.ScriptID)
	if err != nil {
		return repoFailure("load script", err)
	}
	r.script = script

	session, err := o.repo.GetSession(ctx, script.SessionID)
	if err != nil {
		return repoFailure("load session", err)
	}
	scheme, err := o.repo.GetScheme(ctx, session.SchemeID)
	if err != nil {
		return repoFailure("load scheme", err)
	}
	r.scheme = scheme
	return succeeded()
}

func (o *Orchestrator) extractStage(ctx context.Context, r *Run) StageResult {
	result, err := o.extractor.Extract(ctx, r.script.ImagePath)
	if err != nil {
		return failed(FailureExtraction, err)
	}
	if result == nil || result.Confidence <= 0 {
		return failed(FailureExtraction, &extract.ExtractionError{ImagePath: r.script.ImagePath, Err: extract.ErrZeroConfidence})
	}
	r.extraction = result

	r.script.Questions = result.Questions
	r.script.ExtractionConfidence = result.Confidence
	if err := o.repo.UpdateScript(ctx, r.script); err != nil {
		return failed(FailurePersistence, fmt.Errorf("save extraction: %w", err))
	}
	return succeeded()
}

func (o *Orchestrator) scoreStage(ctx context.Context, r *Run) StageResult {
	eval := o.scorer.Evaluate(ctx, r.extraction.Questions, r.scheme)
	if eval == nil {
		return failed(FailureScoring, errors.New("scorer returned no evaluation"))
	}
	eval.ScriptID = r.script.ID
	eval.SessionID = r.script.SessionID

	// A re-run keeps the evaluation id that existing review entries point at,
	// and manual scores already given still replace the computed ones.
	if prev, err := o.repo.GetEvaluationByScript(ctx, r.script.ID); err == nil {
		eval.ID = prev.ID
		if len(prev.ManualOverride) > 0 {
			eval = score.Recalculate(eval, prev.ManualOverride)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return failed(FailurePersistence, fmt.Errorf("load previous evaluation: %w", err))
	}

	if err := o.repo.SaveEvaluation(ctx, eval); err != nil {
		return failed(FailurePersistence, fmt.Errorf("save evaluation: %w", err))
	}
	r.Evaluation = eval
	return succeeded()
}

func (o *Orchestrator) verifyStage(ctx context.Context, r *Run) StageResult {
	r.Evaluation.Verification = o.verification(ctx, r)
	if err := o.repo.SaveEvaluation(ctx, r.Evaluation); err != nil {
		return failed(FailurePersistence, fmt.Errorf("save verification: %w", err))
	}
	return succeeded()
}

// verification asks the verifier for its opinion. A verifier that panics
// gets the heuristic fallback instead; verification never fails a run.
func (o *Orchestrator) verification(ctx context.Context, r *Run) (v *model.Verification) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Warn("verifier panicked, using fallback verification",
				"script_id", r.ScriptID, "panic", p)
			v = verify.Fallback(r.Evaluation)
		}
	}()
	v = o.verifier.Verify(ctx, r.Evaluation, r.scheme, model.StudentAnswers(r.extraction.Questions))
	if v == nil {
		v = verify.Fallback(r.Evaluation)
	}
	return v
}

func (o *Orchestrator) reviewStage(ctx context.Context, r *Run) StageResult {
	entry := review.Decide(r.Evaluation, r.Evaluation.Verification, r.extraction.Confidence)
	if entry == nil {
		return succeeded()
	}

	// One open entry per script; a re-run does not queue the script twice.
	open, err := o.repo.OpenReviewByScript(ctx, r.script.ID)
	if err == nil {
		r.Review = open
		return succeeded()
	}
	if !errors.Is(err, store.ErrNotFound) {
		return failed(FailurePersistence, fmt.Errorf("load open review: %w", err))
	}
	entry.ScriptID = r.script.ID
	entry.EvaluationID = r.Evaluation.ID
	if err := o.repo.CreateReview(ctx, entry); err != nil {
		return failed(FailurePersistence, fmt.Errorf("save review entry: %w", err))
	}
	r.Review = entry
	o.logger.Info("script flagged for review",
		"script_id", r.ScriptID,
		"reason", entry.Reason,
		"priority", entry.Priority.String())
	return succeeded()
}

// complete records the durable completed status. The session counter only
// moves the first time a script completes; ProcessedAt marks that it was
// counted.
func (o *Orchestrator) complete(ctx context.Context, r *Run) StageResult {
	if r.script.ProcessedAt == nil {
		if err := o.repo.IncrementProcessed(ctx, r.script.SessionID); err != nil {
			return failed(FailurePersistence, fmt.Errorf("count processed: %w", err))
		}
	}
	processedAt := o.now()
	r.script.Status = model.ScriptCompleted
	r.script.ProcessedAt = &processedAt
	r.script.Errors = nil
	if err := o.repo.UpdateScript(ctx, r.script); err != nil {
		return failed(FailurePersistence, fmt.Errorf("mark completed: %w", err))
	}
	return succeeded()
}

// fail moves the run to FAILED and persists the script's failure once
func (o *Orchestrator) fail(ctx context.Context, r *Run, res StageResult) (*Run, error) {
	runErr := &RunError{ScriptID: r.ScriptID, Stage: r.State, Kind: res.Kind, Err: res.Err}
	r.Failure = runErr
	o.metrics.incFailure(r.State, res.Kind)

	logger := o.logger.With("script_id", r.ScriptID, "run_id", r.ID)
	logger.Error("pipeline failed", "stage", r.State, "kind", res.Kind, "error", res.Err)

	if r.script != nil {
		r.script.Status = model.ScriptFailed
		r.script.Errors = append(r.script.Errors, res.Err.Error())
		// The run may have been cancelled; the failure still has to land.
		if err := o.repo.UpdateScript(context.WithoutCancel(ctx), r.script); err != nil {
			logger.Error("failed to record script failure", "error", err)
		}
	}

	o.enter(ctx, r, StateFailed, map[string]any{
		"failed_stage": string(runErr.Stage),
		"kind":         string(res.Kind),
		"error":        res.Err.Error(),
	})
	r.FinishedAt = o.now()
	o.metrics.runFinished(StateFailed)
	return r, runErr
}

// enter advances the run and publishes a progress event. Publish errors are
// logged and dropped.
func (o *Orchestrator) enter(ctx context.Context, r *Run, state State, detail map[string]any) {
	if state != StateFailed {
		r.State = state
		r.Progress = progress[state]
	}
	event := notify.Event{
		ScriptID:  r.ScriptID,
		Stage:     string(state),
		Progress:  r.Progress,
		Detail:    detail,
		Timestamp: o.now(),
	}
	if err := o.sink.Publish(ctx, event); err != nil {
		o.logger.Warn("progress event dropped", "script_id", r.ScriptID, "stage", state, "error", err)
	}
	if state == StateFailed {
		r.State = StateFailed
	}
}

// RecalculateAfterManualReview applies per-question manual scores to the
// stored evaluation of a script and saves the result
func (o *Orchestrator) RecalculateAfterManualReview(ctx context.Context, scriptID string, adjustments map[int]float64) (*model.ScriptEvaluation, error) {
	eval, err := o.repo.GetEvaluationByScript(ctx, scriptID)
	if err != nil {
		return nil, fmt.Errorf("load evaluation: %w", err)
	}

	updated := score.Recalculate(eval, adjustments)
	if err := o.repo.SaveEvaluation(ctx, updated); err != nil {
		return nil, fmt.Errorf("save evaluation: %w", err)
	}

	o.logger.Info("evaluation recalculated",
		"script_id", scriptID,
		"adjusted", len(adjustments),
		"score", updated.TotalScore,
		"percentage", updated.Percentage)
	if err := o.sink.Publish(ctx, notify.Event{
		ScriptID:  scriptID,
		Stage:     "manual_review",
		Progress:  100,
		Detail:    map[string]any{"total_score": updated.TotalScore, "percentage": updated.Percentage},
		Timestamp: o.now(),
	}); err != nil {
		o.logger.Warn("progress event dropped", "script_id", scriptID, "stage", "manual_review", "error", err)
	}
	return updated, nil
}

func repoFailure(op string, err error) StageResult {
	if errors.Is(err, store.ErrNotFound) {
		return failed(FailureNotFound, fmt.Errorf("%s: %w", op, err))
	}
	return failed(FailurePersistence, fmt.Errorf("%s: %w", op, err))
}
