package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ppiankov/gradeflow/internal/model"
)

var (
	// ErrInvalidTransition is returned for a status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("invalid review status transition")
	// ErrInvalidScore is returned for a manual score outside [0, max].
	ErrInvalidScore = errors.New("invalid manual score")
)

// Repository is the storage the review service needs
type Repository interface {
	GetReview(ctx context.Context, id string) (*model.ReviewEntry, error)
	UpdateReview(ctx context.Context, entry *model.ReviewEntry) error
	GetEvaluation(ctx context.Context, id string) (*model.ScriptEvaluation, error)
}

// Recalculator applies manual scores to a script's evaluation
type Recalculator interface {
	RecalculateAfterManualReview(ctx context.Context, scriptID string, adjustments map[int]float64) (*model.ScriptEvaluation, error)
}

// Service moves review entries through PENDING, IN_REVIEW and COMPLETED
type Service struct {
	repo         Repository
	recalculator Recalculator
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates a review Service
func NewService(repo Repository, recalculator Recalculator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		recalculator: recalculator,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Start claims a pending entry for a reviewer
func (s *Service) Start(ctx context.Context, reviewID string) (*model.ReviewEntry, error) {
	entry, err := s.repo.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if entry.Status != model.ReviewPending {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, entry.Status, model.ReviewInReview)
	}

	entry.Status = model.ReviewInReview
	if err := s.repo.UpdateReview(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Complete records the reviewer's per-question scores and notes, recalculates
// the evaluation and closes the entry. A pending entry is started implicitly.
func (s *Service) Complete(ctx context.Context, reviewID string, manualScores map[int]float64, notes string) (*model.ReviewEntry, *model.ScriptEvaluation, error) {
	entry, err := s.repo.GetReview(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}
	if entry.Status == model.ReviewCompleted {
		return nil, nil, fmt.Errorf("%w: review %s already completed", ErrInvalidTransition, reviewID)
	}

	eval, err := s.repo.GetEvaluation(ctx, entry.EvaluationID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkScores(eval, manualScores); err != nil {
		return nil, nil, err
	}

	updated, err := s.recalculator.RecalculateAfterManualReview(ctx, entry.ScriptID, manualScores)
	if err != nil {
		return nil, nil, fmt.Errorf("recalculate script %s: %w", entry.ScriptID, err)
	}

	reviewedAt := s.now()
	total := updated.TotalScore
	entry.Status = model.ReviewCompleted
	entry.ManualScore = &total
	entry.Notes = notes
	entry.ReviewedAt = &reviewedAt
	if err := s.repo.UpdateReview(ctx, entry); err != nil {
		return nil, nil, err
	}

	s.logger.Info("review completed",
		"review_id", entry.ID,
		"script_id", entry.ScriptID,
		"original_score", entry.OriginalScore,
		"manual_score", total,
	)
	return entry, updated, nil
}

func checkScores(eval *model.ScriptEvaluation, scores map[int]float64) error {
	if len(scores) == 0 {
		return fmt.Errorf("%w: no scores given", ErrInvalidScore)
	}
	maxByQuestion := make(map[int]float64, len(eval.Questions))
	for _, q := range eval.Questions {
		maxByQuestion[q.Number] = q.MaxScore
	}

	var errs []error
	for n, score := range scores {
		maxScore, ok := maxByQuestion[n]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%w: question %d is not in the evaluation", ErrInvalidScore, n))
		case score < 0 || score > maxScore:
			errs = append(errs, fmt.Errorf("%w: question %d score %g outside [0, %g]", ErrInvalidScore, n, score, maxScore))
		}
	}
	return errors.Join(errs...)
}
