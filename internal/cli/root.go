package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gradeflow",
	Short: "Gradeflow - automated grading of handwritten answer scripts",
	Long: `Gradeflow grades photographed exam answer sheets against a marking scheme.

Each script goes through extraction (vision transcription and question
segmentation), concept scoring, an independent verification and review
triage. Scripts the pipeline is unsure about are queued for a human
reviewer, whose scores replace the computed ones.

Scores are suggestions until a reviewer has seen every flagged script.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute runs the root command. Cancelling ctx stops in-flight pipeline
// runs.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("gradeflow v0.3.0")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.gradeflow/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (same as --log-level debug)")
	rootCmd.PersistentFlags().String("db", "", "sqlite database path (overrides database.path)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))

	// API keys are read from the environment only
	_ = viper.BindEnv("openai_api_key", "GRADEFLOW_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = viper.BindEnv("anthropic_api_key", "GRADEFLOW_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = viper.BindEnv("gemini_api_key", "GRADEFLOW_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".gradeflow"))
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// GRADEFLOW_DATABASE_PATH, GRADEFLOW_LLM_VISION_MODEL, ...
	viper.SetEnvPrefix("GRADEFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}
}

// setupLogging installs the default slog logger from --log-level and
// --log-format
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(viper.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(viper.GetString("log-format")) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))

	if used := viper.ConfigFileUsed(); used != "" {
		slog.Debug("loaded config file", "path", used)
	}
}
