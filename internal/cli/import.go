package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/gradeflow/internal/model"
)

var (
	sessionScheme string
	sessionName   string
)

// importCmd represents the import command
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load marking schemes, sessions and scripts",
}

var importSchemeCmd = &cobra.Command{
	Use:   "scheme <scheme.yaml>",
	Short: "Import a marking scheme",
	Long: `Import a marking scheme from YAML. A scheme without passing_marks gets
the default of 40 percent.

Example scheme.yaml:
  scheme_name: Data Structures Midterm
  subject: Computer Science
  total_marks: 20
  passing_marks: 40
  questions:
    - question_number: 1
      max_marks: 10
      concepts:
        - concept: Binary tree
          keywords: [tree, node, child]
          weight: 1.0
          marks_allocation: 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var scheme model.MarkingScheme
		if err := readYAML(args[0], &scheme); err != nil {
			return err
		}
		if scheme.PassingMarks == 0 {
			scheme.PassingMarks = model.DefaultPassingMarks
		}

		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		if err := st.SaveScheme(cmd.Context(), &scheme); err != nil {
			return fmt.Errorf("save scheme: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Imported scheme %q (%d questions, %.0f marks)\n",
			scheme.Name, len(scheme.Questions), scheme.TotalMarks)
		fmt.Println(scheme.ID)
		return nil
	},
}

var importSessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create a grading session for a scheme",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		session := &model.Session{Name: sessionName, SchemeID: sessionScheme}
		if err := st.CreateSession(cmd.Context(), session); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Created session %q\n", session.Name)
		fmt.Println(session.ID)
		return nil
	},
}

var importScriptsCmd = &cobra.Command{
	Use:   "scripts <session-id> <scripts.yaml>",
	Short: "Register answer scripts in a session",
	Long: `Register scanned answer sheets. Image paths are resolved against
images.root.

Example scripts.yaml:
  - student_name: Ada Lovelace
    student_id: S-001
    image_path: ada.jpg
  - student_name: Alan Turing
    student_id: S-002
    image_path: alan.png`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var scripts []*model.Script
		if err := readYAML(args[1], &scripts); err != nil {
			return err
		}

		_, st, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		for _, s := range scripts {
			s.SessionID = args[0]
			if err := st.CreateScript(cmd.Context(), s); err != nil {
				return fmt.Errorf("create script for %s: %w", s.StudentName, err)
			}
			fmt.Printf("%s\t%s\n", s.ID, s.StudentName)
		}
		fmt.Fprintf(os.Stderr, "✓ Registered %d scripts\n", len(scripts))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importSchemeCmd, importSessionCmd, importScriptsCmd)

	importSessionCmd.Flags().StringVar(&sessionScheme, "scheme", "", "marking scheme id")
	importSessionCmd.Flags().StringVar(&sessionName, "name", "", "session name")
	_ = importSessionCmd.MarkFlagRequired("scheme")
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
