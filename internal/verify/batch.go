package verify

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/gradeflow/internal/model"
)

// Job is one script to verify in a batch
type Job struct {
	Evaluation *model.ScriptEvaluation
	Scheme     *model.MarkingScheme
	Answers    map[int]string
}

// VerifyBatch verifies jobs with at most the configured number of critique
// requests in flight. Results are in job order; a job that cannot be
// critiqued gets its fallback verification.
func (v *Verifier) VerifyBatch(ctx context.Context, jobs []Job) []*model.Verification {
	results := make([]*model.Verification, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)

	for i, job := range jobs {
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = Fallback(job.Evaluation)
				return nil
			}
			results[i] = v.Verify(gctx, job.Evaluation, job.Scheme, job.Answers)
			return nil
		})
	}

	// Workers never return errors.
	_ = g.Wait()
	return results
}
