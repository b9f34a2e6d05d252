package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/store"
)

var showFormat string

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show stored scripts, evaluations and sessions",
}

// scriptReport is what `show script` prints
type scriptReport struct {
	Script     *model.Script           `json:"script" yaml:"script"`
	Evaluation *model.ScriptEvaluation `json:"evaluation,omitempty" yaml:"evaluation,omitempty"`
}

var showScriptCmd = &cobra.Command{
	Use:   "script <script-id>",
	Short: "Show a script with its evaluation",
	Long: `Show a script's status, extracted questions and evaluation. A failed
script shows its processing errors. A completed script shows its score even
when a review is still pending.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		script, err := st.GetScript(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		report := scriptReport{Script: script}
		eval, err := st.GetEvaluationByScript(cmd.Context(), script.ID)
		switch {
		case err == nil:
			report.Evaluation = eval
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		return render(os.Stdout, showFormat, report)
	},
}

var showSessionCmd = &cobra.Command{
	Use:   "session <session-id>",
	Short: "List the scripts of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		ctx := cmd.Context()
		session, err := st.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		scripts, err := st.ListScripts(ctx, session.ID)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Session %q: %d scripts, %d processed\n\n", session.Name, len(scripts), session.ProcessedCount)
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTUDENT\tSTATUS\tSCORE\tREVIEW")
		for _, s := range scripts {
			scoreText, reviewText := "-", "-"
			if s.Status == model.ScriptCompleted {
				if eval, err := st.GetEvaluationByScript(ctx, s.ID); err == nil {
					scoreText = fmt.Sprintf("%.1f/%.1f (%.0f%%)", eval.TotalScore, eval.MaxPossibleScore, eval.Percentage)
					if eval.RequiresReview || (eval.Verification != nil && eval.Verification.FlaggedForReview) {
						reviewText = "flagged"
					}
				}
			}
			if s.Status == model.ScriptFailed && len(s.Errors) > 0 {
				reviewText = s.Errors[len(s.Errors)-1]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.StudentName, s.Status, scoreText, reviewText)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.AddCommand(showScriptCmd, showSessionCmd)
	showCmd.PersistentFlags().StringVarP(&showFormat, "output", "o", "json", "output format (json, yaml)")
}
