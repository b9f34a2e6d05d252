package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/gradeflow/internal/cache"
	"github.com/ppiankov/gradeflow/internal/extract"
	"github.com/ppiankov/gradeflow/internal/llm"
	"github.com/ppiankov/gradeflow/internal/model"
	"github.com/ppiankov/gradeflow/internal/notify"
	"github.com/ppiankov/gradeflow/internal/pipeline"
	"github.com/ppiankov/gradeflow/internal/review"
	"github.com/ppiankov/gradeflow/internal/score"
	"github.com/ppiankov/gradeflow/internal/similarity"
	"github.com/ppiankov/gradeflow/internal/store"
	"github.com/ppiankov/gradeflow/internal/verify"
	"github.com/ppiankov/gradeflow/internal/worker"
)

// app holds the components wired for one command invocation
type app struct {
	cfg          *model.Config
	store        *store.Store
	similarity   *similarity.Service
	verifier     *verify.Verifier
	orchestrator *pipeline.Orchestrator
	reviews      *review.Service
	logger       *slog.Logger

	closers []func() error
}

// openStore loads the config and opens only the repository. Commands that
// never call a provider use it.
func openStore() (*model.Config, *store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	return cfg, st, nil
}

// newApp builds the full pipeline from the configuration
func newApp(ctx context.Context) (_ *app, err error) {
	cfg, st, err := openStore()
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	a := &app{cfg: cfg, store: st, logger: logger}
	a.closers = append(a.closers, st.Close)
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	// Providers: caller -> retry -> rate limit -> logging -> base
	mw := llm.Middleware{
		Retry:   cfg.LLM.Retry,
		Limiter: worker.NewLimiter(cfg.LLM.RequestsPerSecond, cfg.LLM.Burst),
		Logger:  logger,
	}
	vision, err := llm.NewFromModel(ctx, llm.VisionConfig(cfg.LLM), mw)
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	if vision == nil {
		return nil, errors.New("vision: llm.vision_provider is required")
	}
	critique, err := llm.NewFromModel(ctx, llm.CritiqueConfig(cfg.LLM), mw)
	if err != nil {
		return nil, fmt.Errorf("critique: %w", err)
	}
	if critique == nil {
		logger.Info("no critique provider configured, verification uses the heuristic fallback")
	}

	// Similarity lives for the whole invocation
	var embedder similarity.Embedder
	if cfg.Similarity.Enabled && cfg.LLM.OpenAIAPIKey != "" {
		embedder, err = similarity.NewOpenAIEmbedder(similarity.EmbedderConfig{
			Model:     cfg.Similarity.Model,
			APIKey:    cfg.LLM.OpenAIAPIKey,
			CacheSize: cfg.Similarity.CacheSize,
		})
		if err != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
	}
	a.similarity = similarity.NewService(embedder, logger)
	if err := a.similarity.Open(ctx); err != nil {
		return nil, fmt.Errorf("open similarity: %w", err)
	}
	a.closers = append(a.closers, a.similarity.Close)
	logger.Debug("similarity ready", "semantic", a.similarity.Semantic())

	extractor := extract.NewExtractor(
		store.NewFileImages(cfg.Images.Root),
		llm.NewVisionExtractor(vision),
		a.similarity,
		cache.NewTranscriptionStore(cache.New(cfg.Cache), cfg.Cache.DiskTTL),
		extract.Config{MaxImageBytes: cfg.Images.MaxSizeBytes, VisionModel: cfg.LLM.VisionModel},
		logger,
	)
	scorer := score.NewScriptScorer(score.NewConceptScorer(a.similarity, logger), logger)
	a.verifier = verify.NewVerifier(critique, cfg.Verification.Workers, logger)

	sink, err := a.progressSink(ctx)
	if err != nil {
		return nil, err
	}

	metrics, err := pipeline.NewMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.orchestrator = pipeline.NewOrchestrator(pipeline.Deps{
		Repository: st,
		Extractor:  extractor,
		Scorer:     scorer,
		Verifier:   a.verifier,
		Sink:       sink,
		Metrics:    metrics,
		Retry:      cfg.Pipeline.Retry,
		Workers:    cfg.Pipeline.Workers,
		Logger:     logger,
	})
	a.reviews = review.NewService(st, a.orchestrator, logger)
	return a, nil
}

// progressSink logs every event and also publishes to redis when configured
func (a *app) progressSink(ctx context.Context) (notify.Sink, error) {
	sinks := notify.MultiSink{notify.NewLogSink(a.logger)}
	if a.cfg.Notify.RedisAddr == "" {
		return sinks, nil
	}
	rs, err := notify.NewRedisSink(ctx, a.cfg.Notify.RedisAddr, a.cfg.Notify.RedisChannel)
	if err != nil {
		return nil, fmt.Errorf("progress notifications: %w", err)
	}
	a.closers = append(a.closers, rs.Close)
	return append(sinks, rs), nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
