package pipeline

import (
	"context"
	"fmt"

	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/worker"
)

// BatchSummary reports a RunBatch call
type BatchSummary struct {
	worker.Summary
	Skipped int               `json:"skipped" yaml:"skipped"` // already claimed by another run
	Errors  map[string]string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// RunBatch runs every pending or failed script of a session on the worker
// pool. Each script is claimed first so a script that another run already
// holds is skipped rather than processed twice.
func (o *Orchestrator) RunBatch(ctx context.Context, sessionID string) (BatchSummary, error) {
	if _, err := o.repo.GetSession(ctx, sessionID); err != nil {
		return BatchSummary{}, fmt.Errorf("load session: %w", err)
	}

	scripts, err := o.repo.ListScripts(ctx, sessionID, model.ScriptPending, model.ScriptFailed)
	if err != nil {
		return BatchSummary{}, fmt.Errorf("list scripts: %w", err)
	}

	var (
		claimed []string
		skipped int
	)
	for _, s := range scripts {
		ok, err := o.repo.ClaimScript(ctx, s.ID)
		if err != nil {
			return BatchSummary{}, fmt.Errorf("claim script %s: %w", s.ID, err)
		}
		if !ok {
			skipped++
			continue
		}
		claimed = append(claimed, s.ID)
	}

	o.logger.Info("batch started",
		"session_id", sessionID,
		"scripts", len(claimed),
		"skipped", skipped,
		"workers", o.workers)

	processor := worker.NewBatchProcessor(worker.RunnerFunc(func(ctx context.Context, scriptID string) error {
		_, err := o.RunPipeline(ctx, scriptID)
		return err
	}), o.workers)
	results := processor.ProcessScripts(ctx, claimed)

	if len(results) < len(claimed) {
		o.release(ctx, claimed, results)
	}

	summary := BatchSummary{Summary: worker.Summarize(results), Skipped: skipped}
	for _, r := range results {
		if r.Error == nil {
			continue
		}
		if summary.Errors == nil {
			summary.Errors = make(map[string]string)
		}
		summary.Errors[r.ScriptID] = r.Error.Error()
	}

	o.logger.Info("batch finished",
		"session_id", sessionID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"success_rate", summary.SuccessRate)
	return summary, nil
}

// release puts claimed scripts that never started back to PENDING, so a
// cancelled batch does not leave them held.
func (o *Orchestrator) release(ctx context.Context, claimed []string, results []*worker.ScriptResult) {
	started := make(map[string]bool, len(results))
	for _, r := range results {
		started[r.ScriptID] = true
	}
	ctx = context.WithoutCancel(ctx)
	for _, id := range claimed {
		if started[id] {
			continue
		}
		script, err := o.repo.GetScript(ctx, id)
		if err == nil {
			script.Status = model.ScriptPending
			err = o.repo.UpdateScript(ctx, script)
		}
		if err != nil {
			o.logger.Error("failed to release script", "script_id", id, "error", err)
		}
	}
}
