package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gradeflow/internal/pipeline"
	"github.com/ppiankov/gradeflow/internal/worker"
)

var (
	runTimeout time.Duration
	runForce   bool
	runIDsFile string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [script-id...]",
	Short: "Run the grading pipeline for individual scripts",
	Long: `Run takes each script through extraction, scoring, verification and
review triage, one script after the other.

A script that is already processing or completed is skipped unless --force
is given.

Example:
  gradeflow run 7c9e6679-7425-40de-944b-e07fc1f90ae7
  gradeflow run --file retry.txt
  gradeflow run 7c9e6679 --force`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "timeout per script")
	runCmd.Flags().BoolVar(&runForce, "force", false, "run even when the script is processing or completed")
	runCmd.Flags().StringVar(&runIDsFile, "file", "", "read script ids from a file (one per line, # comments)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ids := args
	if runIDsFile != "" {
		fromFile, err := worker.ReadIDsFromFile(runIDsFile)
		if err != nil {
			return err
		}
		ids = append(ids, fromFile...)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no script ids given")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	failures := 0
	for _, id := range ids {
		if !runForce {
			claimed, err := a.store.ClaimScript(cmd.Context(), id)
			if err != nil {
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", id, err)
				failures++
				continue
			}
			if !claimed {
				fmt.Fprintf(os.Stderr, "- %s: already processing or completed (use --force)\n", id)
				continue
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), runTimeout)
		run, err := a.orchestrator.RunPipeline(ctx, id)
		cancel()
		if err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", id, err)
			continue
		}
		printRun(run)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d scripts failed", failures, len(ids))
	}
	return nil
}

func printRun(run *pipeline.Run) {
	eval := run.Evaluation
	fmt.Fprintf(os.Stderr, "✓ %s: %.1f/%.1f (%.1f%%) in %s\n",
		run.ScriptID, eval.TotalScore, eval.MaxPossibleScore, eval.Percentage,
		run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	if run.Review != nil {
		fmt.Fprintf(os.Stderr, "  ⚠️  queued for review: %s (priority %s, entry %s)\n",
			run.Review.Reason, run.Review.Priority, run.Review.ID)
	}
}
