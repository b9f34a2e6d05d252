package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/gradeflow/internal/model"
)

// CreateScript stores a new pending script in an existing session
func (s *Store) CreateScript(ctx context.Context, script *model.Script) error {
	if _, err := s.GetSession(ctx, script.SessionID); err != nil {
		return err
	}
	if script.ID == "" {
		script.ID = uuid.NewString()
	}
	if script.Status == "" {
		script.Status = model.ScriptPending
	}
	if script.CreatedAt.IsZero() {
		script.CreatedAt = time.Now().UTC()
	}

	body, err := encode(script)
	if err != nil {
		return persistErr("encode script", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scripts (id, session_id, status, body, updated_at) VALUES (?, ?, ?, ?, ?)`,
		script.ID, script.SessionID, string(script.Status), body, time.Now().UTC(),
	)
	return persistErr("create script", err)
}

// GetScript returns a script by id
func (s *Store) GetScript(ctx context.Context, id string) (*model.Script, error) {
	var (
		body   string
		status string
	)
	err := s.db.QueryRowContext(ctx, `SELECT status, body FROM scripts WHERE id = ?`, id).Scan(&status, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "script", ID: id}
	}
	if err != nil {
		return nil, persistErr("get script", err)
	}
	return decodeScript(status, body)
}

// The status column is authoritative; ClaimScript only updates the column.
func decodeScript(status, body string) (*model.Script, error) {
	var script model.Script
	if err := json.Unmarshal([]byte(body), &script); err != nil {
		return nil, persistErr("decode script", err)
	}
	script.Status = model.ScriptStatus(status)
	return &script, nil
}

// UpdateScript replaces the stored script document
func (s *Store) UpdateScript(ctx context.Context, script *model.Script) error {
	body, err := encode(script)
	if err != nil {
		return persistErr("encode script", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scripts SET status = ?, body = ?, updated_at = ? WHERE id = ?`,
		string(script.Status), body, time.Now().UTC(), script.ID,
	)
	if err != nil {
		return persistErr("update script", err)
	}
	return requireRow(res, "script", script.ID)
}

// ListScripts returns a session's scripts, optionally filtered by status,
// oldest first.
func (s *Store) ListScripts(ctx context.Context, sessionID string, statuses ...model.ScriptStatus) ([]*model.Script, error) {
	query := `SELECT status, body FROM scripts WHERE session_id = ?`
	args := []any{sessionID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list scripts", err)
	}
	defer rows.Close()

	var scripts []*model.Script
	for rows.Next() {
		var status, body string
		if err := rows.Scan(&status, &body); err != nil {
			return nil, persistErr("list scripts", err)
		}
		script, err := decodeScript(status, body)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, persistErr("list scripts", rows.Err())
}

// ClaimScript moves a pending or failed script to processing. It reports
// false when the script is already processing or completed, which keeps a
// second run from starting for the same script.
func (s *Store) ClaimScript(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scripts SET status = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.ScriptProcessing), time.Now().UTC(), id,
		string(model.ScriptPending), string(model.ScriptFailed),
	)
	if err != nil {
		return false, persistErr("claim script", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("claim script", err)
	}
	if n == 0 {
		if _, err := s.GetScript(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}
