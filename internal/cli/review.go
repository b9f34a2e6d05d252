package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/pipeline"
	"github.com/ppiankov/gradeflow/internal/review"
	"github.com/ppiankov/gradeflow/internal/store"
)

var (
	reviewStatus string
	reviewScores []string
	reviewNotes  string
)

// reviewCmd represents the review command
var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work through the manual review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review entries, highest priority first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		entries, err := st.ListReviews(cmd.Context(), model.ReviewStatus(reviewStatus))
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No review entries")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCRIPT\tREASON\tPRIORITY\tSTATUS\tSCORE\tFLAGGED")
		for _, e := range entries {
			scoreText := strconv.FormatFloat(e.OriginalScore, 'f', 1, 64)
			if e.ManualScore != nil {
				scoreText += " -> " + strconv.FormatFloat(*e.ManualScore, 'f', 1, 64)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.ScriptID, e.Reason, e.Priority, e.Status, scoreText,
				e.FlaggedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var reviewStartCmd = &cobra.Command{
	Use:   "start <review-id>",
	Short: "Mark a pending entry as in review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		entry, err := reviewService(st).Start(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Review %s is in review (script %s)\n", entry.ID, entry.ScriptID)
		return nil
	},
}

var reviewCompleteCmd = &cobra.Command{
	Use:   "complete <review-id>",
	Short: "Record manual scores and recalculate the evaluation",
	Long: `Complete a review with per-question manual scores. The scores replace
the computed ones, the script total is summed again and the review flag is
cleared.

Example:
  gradeflow review complete 9b1d... --score 1=9 --score 2=6.5 --notes "Q1 answer continued on back"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scores, err := parseScores(reviewScores)
		if err != nil {
			return err
		}

		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		entry, eval, err := reviewService(st).Complete(cmd.Context(), args[0], scores, reviewNotes)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "✓ Review %s completed: %.1f -> %.1f (%.1f%%)\n",
			entry.ID, entry.OriginalScore, eval.TotalScore, eval.Percentage)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd, reviewStartCmd, reviewCompleteCmd)

	reviewListCmd.Flags().StringVar(&reviewStatus, "status", string(model.ReviewPending), "filter by status (pending, in_review, completed; empty for all)")
	reviewCompleteCmd.Flags().StringArrayVar(&reviewScores, "score", nil, "manual score as question=marks (repeatable)")
	reviewCompleteCmd.Flags().StringVar(&reviewNotes, "notes", "", "reviewer notes")
	_ = reviewCompleteCmd.MarkFlagRequired("score")
}

// reviewService recalculates through an orchestrator that only has the
// repository; no provider is needed to apply manual scores.
func reviewService(st *store.Store) *review.Service {
	logger := slog.Default()
	o := pipeline.NewOrchestrator(pipeline.Deps{Repository: st, Logger: logger})
	return review.NewService(st, o, logger)
}

// parseScores turns ["1=9", "2=6.5"] into question -> marks
func parseScores(values []string) (map[int]float64, error) {
	scores := make(map[int]float64, len(values))
	for _, v := range values {
		q, m, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --score %q: want question=marks", v)
		}
		n, err := strconv.Atoi(strings.TrimSpace(q))
		if err != nil {
			return nil, fmt.Errorf("invalid question number in --score %q: %w", v, err)
		}
		marks, err := strconv.ParseFloat(strings.TrimSpace(m), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid marks in --score %q: %w", v, err)
		}
		if _, dup := scores[n]; dup {
			return nil, fmt.Errorf("question %d scored twice", n)
		}
		scores[n] = marks
	}
	return scores, nil
}
