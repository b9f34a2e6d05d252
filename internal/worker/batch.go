package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Runner processes one script end to end
type Runner interface {
	Run(ctx context.Context, scriptID string) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, scriptID string) error

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, scriptID string) error {
	return f(ctx, scriptID)
}

// ScriptResult represents the result of a script job
type ScriptResult struct {
	ScriptID string
	Duration time.Duration
	Error    error
}

// Summary aggregates a batch
type Summary struct {
	Total       int     `json:"total" yaml:"total"`
	Succeeded   int     `json:"processed" yaml:"processed"`
	Failed      int     `json:"failed" yaml:"failed"`
	SuccessRate float64 `json:"success_rate" yaml:"success_rate"` // percent
}

// Summarize counts successes and failures
func Summarize(results []*ScriptResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Error != nil {
			s.Failed++
		} else {
			s.Succeeded++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Succeeded) / float64(s.Total) * 100
	}
	return s
}

// BatchProcessor runs many scripts concurrently. It imposes no ordering
// between scripts.
type BatchProcessor struct {
	runner      Runner
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(runner Runner, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		runner:      runner,
		concurrency: concurrency,
	}
}

// ProcessScripts runs every script id on the worker pool. Results follow
// the order of scriptIDs; scripts not started before ctx was cancelled are
// missing. A panicking runner fails only its own script.
func (b *BatchProcessor) ProcessScripts(ctx context.Context, scriptIDs []string) []*ScriptResult {
	if len(scriptIDs) == 0 {
		return []*ScriptResult{}
	}

	pool := NewPool(ctx, b.concurrency, func(i int, p *PanicError) *ScriptResult {
		return &ScriptResult{ScriptID: scriptIDs[i], Error: p}
	})
	pool.Start()

	for _, id := range scriptIDs {
		pool.Submit(b.task(id))
	}
	return pool.Wait()
}

func (b *BatchProcessor) task(scriptID string) Task[*ScriptResult] {
	return func(ctx context.Context) *ScriptResult {
		start := time.Now()
		err := b.runner.Run(ctx, scriptID)
		return &ScriptResult{ScriptID: scriptID, Duration: time.Since(start), Error: err}
	}
}

// ReadIDsFromFile reads ids from a file (one per line)
func ReadIDsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var ids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// A script must never be queued twice in one batch
		if !seen[line] {
			seen[line] = true
			ids = append(ids, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return ids, nil
}
