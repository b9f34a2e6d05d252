package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/gradeflow/internal/model"
)

var (
	batchWorkers     int
	batchTimeout     time.Duration
	batchMetricsAddr string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <session-id>",
	Short: "Grade every pending or failed script of a session in parallel",
	Long: `Batch claims each pending or failed script of a session and runs the
pipeline for all of them on a worker pool. Scripts held by another run are
skipped. There is no ordering between scripts.

Example:
  gradeflow batch 3f2a...
  gradeflow batch 3f2a... --workers 8 --timeout 30m
  gradeflow batch 3f2a... --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "number of concurrent pipeline runs (default pipeline.workers)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", time.Hour, "total timeout for the batch")
	batchCmd.Flags().StringVar(&batchMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the batch runs")
}

func runBatch(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	ctx, cancel := context.WithTimeout(cmd.Context(), batchTimeout)
	defer cancel()

	if batchWorkers > 0 {
		viper.Set("pipeline.workers", batchWorkers)
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	metricsAddr := a.cfg.Metrics.Addr
	if batchMetricsAddr != "" {
		metricsAddr = batchMetricsAddr
	}
	if metricsAddr != "" {
		stop := serveMetrics(metricsAddr)
		defer stop()
	}

	printBanner("Gradeflow Batch Processing")
	fmt.Fprintf(os.Stderr, "  Session:      %s\n", sessionID)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", a.cfg.Pipeline.Workers)
	fmt.Fprintf(os.Stderr, "  Vision:       %s/%s\n", a.cfg.LLM.VisionProvider, a.cfg.LLM.VisionModel)
	if a.cfg.LLM.CritiqueProvider != "" {
		fmt.Fprintf(os.Stderr, "  Critique:     %s/%s\n", a.cfg.LLM.CritiqueProvider, a.cfg.LLM.CritiqueModel)
	}
	fmt.Fprintf(os.Stderr, "  Semantic:     %v\n", a.similarity.Semantic())
	if metricsAddr != "" {
		fmt.Fprintf(os.Stderr, "  Metrics:      http://%s/metrics\n", metricsAddr)
	}
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)

	summary, err := a.orchestrator.RunBatch(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("batch: %w", err)
	}

	ids := make([]string, 0, len(summary.Errors))
	for id := range summary.Errors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", id, summary.Errors[id])
	}

	printBanner("Batch Complete")
	fmt.Fprintf(os.Stderr, "  Total:     %d scripts\n", summary.Total)
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", summary.Succeeded)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", summary.Failed)
	fmt.Fprintf(os.Stderr, "  Skipped:   %d\n", summary.Skipped)
	fmt.Fprintf(os.Stderr, "  Rate:      %.1f%%\n", summary.SuccessRate)
	fmt.Fprintf(os.Stderr, "\n")

	pending, err := a.store.ListReviews(ctx, model.ReviewPending)
	if err == nil && len(pending) > 0 {
		fmt.Fprintf(os.Stderr, "  %d scripts await review: gradeflow review list\n\n", len(pending))
	}
	return nil
}

// serveMetrics exposes the default Prometheus registry until stop is called
func serveMetrics(addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
