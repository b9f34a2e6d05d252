package pipeline

import (
	"errors"
	"fmt"
)

// State is a step of a script's pipeline run
type State string

const (
	StateQueued      State = "queued"
	StateExtracting  State = "extracting"
	StateScoring     State = "scoring"
	StateVerifying   State = "verifying"
	StateReviewCheck State = "review_check"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// progress is the percentage reported on entering each state
var progress = map[State]int{
	StateQueued:      0,
	StateExtracting:  20,
	StateScoring:     60,
	StateVerifying:   80,
	StateReviewCheck: 90,
	StateCompleted:   100,
}

// FailureKind classifies why a stage failed
type FailureKind string

const (
	FailureExtraction  FailureKind = "extraction"
	FailureNotFound    FailureKind = "not_found"
	FailureScoring     FailureKind = "scoring"
	FailurePersistence FailureKind = "persistence"
)

// StageResult is what a stage returns to the orchestrator. The zero value
// means success.
type StageResult struct {
	Kind FailureKind
	Err  error
}

// OK reports whether the stage succeeded
func (r StageResult) OK() bool { return r.Err == nil }

func succeeded() StageResult { return StageResult{} }

func failed(kind FailureKind, err error) StageResult {
	return StageResult{Kind: kind, Err: err}
}

// RunError is returned by RunPipeline when a run ends in FAILED
type RunError struct {
	ScriptID string
	Stage    State
	Kind     FailureKind
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("script %s failed during %s (%s): %v", e.ScriptID, e.Stage, e.Kind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// IsFailure reports whether err is a RunError of the given kind
func IsFailure(err error, kind FailureKind) bool {
	var re *RunError
	return errors.As(err, &re) && re.Kind == kind
}
