package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/gradeflow/internal/cache"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the transcription cache",
	Long: `The transcription cache keeps vision results keyed by image digest and
vision model, so a script re-run after a scoring failure does not pay for
transcription again.`,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired cache entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Cache.Enabled {
			fmt.Fprintln(os.Stderr, "Cache is disabled")
			return nil
		}
		n, err := cache.Prune(cache.New(cfg.Cache))
		if err != nil {
			return fmt.Errorf("prune cache: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Removed %d expired entries from %s\n", n, cfg.Cache.Dir)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cache.New(cfg.Cache).Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Cleared cache in %s\n", cfg.Cache.Dir)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cachePruneCmd, cacheClearCmd)
}
