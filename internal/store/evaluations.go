package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/gradeflow/internal/model"
)

// SaveEvaluation stores eval as the evaluation of its script, replacing any
// earlier one. An empty id or timestamp is filled in.
func (s *Store) SaveEvaluation(ctx context.Context, eval *model.ScriptEvaluation) error {
	if eval.ID == "" {
		eval.ID = uuid.NewString()
	}
	if eval.EvaluatedAt.IsZero() {
		eval.EvaluatedAt = time.Now().UTC()
	}

	body, err := encode(eval)
	if err != nil {
		return persistErr("encode evaluation", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("save evaluation", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM evaluations WHERE script_id = ? OR id = ?`, eval.ScriptID, eval.ID); err != nil {
		return persistErr("save evaluation", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO evaluations (id, script_id, body, evaluated_at) VALUES (?, ?, ?, ?)`,
		eval.ID, eval.ScriptID, body, eval.EvaluatedAt); err != nil {
		return persistErr("save evaluation", err)
	}
	return persistErr("save evaluation", tx.Commit())
}

// GetEvaluation returns an evaluation by id
func (s *Store) GetEvaluation(ctx context.Context, id string) (*model.ScriptEvaluation, error) {
	var eval model.ScriptEvaluation
	if err := s.getDocument(ctx, "evaluation", `SELECT body FROM evaluations WHERE id = ?`, id, &eval); err != nil {
		return nil, err
	}
	return &eval, nil
}

// GetEvaluationByScript returns the evaluation of a script
func (s *Store) GetEvaluationByScript(ctx context.Context, scriptID string) (*model.ScriptEvaluation, error) {
	var eval model.ScriptEvaluation
	if err := s.getDocument(ctx, "evaluation", `SELECT body FROM evaluations WHERE script_id = ?`, scriptID, &eval); err != nil {
		return nil, err
	}
	return &eval, nil
}
