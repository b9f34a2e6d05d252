package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/ppiankov/gradeflow/internal/model"
)

// CreateReview stores a new review entry
func (s *Store) CreateReview(ctx context.Context, entry *model.ReviewEntry) error {
	body, err := encode(entry)
	if err != nil {
		return persistErr("encode review", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, script_id, evaluation_id, status, priority, body, flagged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ScriptID, entry.EvaluationID, string(entry.Status), int(entry.Priority), body, entry.FlaggedAt,
	)
	return persistErr("create review", err)
}

// GetReview returns a review entry by id
func (s *Store) GetReview(ctx context.Context, id string) (*model.ReviewEntry, error) {
	var entry model.ReviewEntry
	if err := s.getDocument(ctx, "review", `SELECT body FROM reviews WHERE id = ?`, id, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpdateReview replaces a stored review entry
func (s *Store) UpdateReview(ctx context.Context, entry *model.ReviewEntry) error {
	body, err := encode(entry)
	if err != nil {
		return persistErr("encode review", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE reviews SET status = ?, priority = ?, body = ? WHERE id = ?`,
		string(entry.Status), int(entry.Priority), body, entry.ID,
	)
	if err != nil {
		return persistErr("update review", err)
	}
	return requireRow(res, "review", entry.ID)
}

// OpenReviewByScript returns the oldest pending or in-review entry of a
// script, or a NotFoundError when the script has none open.
func (s *Store) OpenReviewByScript(ctx context.Context, scriptID string) (*model.ReviewEntry, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM reviews WHERE script_id = ? AND status IN (?, ?) ORDER BY flagged_at LIMIT 1`,
		scriptID, string(model.ReviewPending), string(model.ReviewInReview),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "open review", ID: scriptID}
	}
	if err != nil {
		return nil, persistErr("get open review", err)
	}
	var entry model.ReviewEntry
	if err := json.Unmarshal([]byte(body), &entry); err != nil {
		return nil, persistErr("decode review", err)
	}
	return &entry, nil
}

// ListReviews returns review entries, highest priority and oldest first.
// An empty status lists every entry.
func (s *Store) ListReviews(ctx context.Context, status model.ReviewStatus) ([]*model.ReviewEntry, error) {
	query := `SELECT body FROM reviews`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY priority, flagged_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list reviews", err)
	}
	defer rows.Close()

	var entries []*model.ReviewEntry
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, persistErr("list reviews", err)
		}
		var entry model.ReviewEntry
		if err := json.Unmarshal([]byte(body), &entry); err != nil {
			return nil, persistErr("decode review", err)
		}
		entries = append(entries, &entry)
	}
	return entries, persistErr("list reviews", rows.Err())
}
