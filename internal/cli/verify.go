package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gradeflow/internal/llm"
	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/verify"
	"github.com/ppiankov/gradeflow/internal/worker"
)

var verifyWorkers int

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <session-id>",
	Short: "Verify the completed scripts of a session again",
	Long: `Verify sends every completed script of a session to the critique
provider again, for example after switching critique models. At most
--workers critique requests run at once; a script whose critique fails
gets the heuristic verification instead.

Scores and review entries are not changed.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().IntVar(&verifyWorkers, "workers", 0, "concurrent critique requests (default verification.workers)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	logger := slog.Default()
	critique, err := llm.NewFromModel(ctx, llm.CritiqueConfig(cfg.LLM), llm.Middleware{
		Retry:   cfg.LLM.Retry,
		Limiter: worker.NewLimiter(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("critique: %w", err)
	}
	workers := cfg.Verification.Workers
	if verifyWorkers > 0 {
		workers = verifyWorkers
	}
	verifier := verify.NewVerifier(critique, workers, logger)

	session, err := st.GetSession(ctx, args[0])
	if err != nil {
		return err
	}
	scheme, err := st.GetScheme(ctx, session.SchemeID)
	if err != nil {
		return err
	}
	scripts, err := st.ListScripts(ctx, session.ID, model.ScriptCompleted)
	if err != nil {
		return err
	}

	var jobs []verify.Job
	for _, s := range scripts {
		eval, err := st.GetEvaluationByScript(ctx, s.ID)
		if err != nil {
			return err
		}
		jobs = append(jobs, verify.Job{
			Evaluation: eval,
			Scheme:     scheme,
			Answers:    model.StudentAnswers(s.Questions),
		})
	}

	results := verifier.VerifyBatch(ctx, jobs)

	var flagged, fallback int
	for i, v := range results {
		eval := jobs[i].Evaluation
		eval.Verification = v
		if err := st.SaveEvaluation(ctx, eval); err != nil {
			return fmt.Errorf("save verification for %s: %w", eval.ScriptID, err)
		}
		if v.FlaggedForReview {
			flagged++
		}
		if v.Fallback {
			fallback++
		}
	}

	fmt.Fprintf(os.Stderr, "✓ Verified %d scripts: %d flagged, %d heuristic\n", len(results), flagged, fallback)
	return nil
}
