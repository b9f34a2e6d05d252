// Package store persists schemes, sessions, scripts, evaluations and review
// entries in SQLite, one JSON document per record.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/gradeflow/internal/model"

	// Pure Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// Store is the SQLite repository
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schemes (
		id TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		scheme_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		processed_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (scheme_id) REFERENCES schemes(id)
	);

	CREATE TABLE IF NOT EXISTS scripts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_scripts_session ON scripts(session_id, status);

	CREATE TABLE IF NOT EXISTS evaluations (
		id TEXT PRIMARY KEY,
		script_id TEXT NOT NULL UNIQUE,
		body TEXT NOT NULL,
		evaluated_at DATETIME NOT NULL,
		FOREIGN KEY (script_id) REFERENCES scripts(id)
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		script_id TEXT NOT NULL,
		evaluation_id TEXT NOT NULL,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL,
		body TEXT NOT NULL,
		flagged_at DATETIME NOT NULL,
		FOREIGN KEY (script_id) REFERENCES scripts(id)
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_status ON reviews(status, priority, flagged_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

// getDocument loads the JSON body of one row into out
func (s *Store) getDocument(ctx context.Context, kind, query, id string, out any) error {
	var body string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	if err != nil {
		return persistErr("get "+kind, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return persistErr("decode "+kind, err)
	}
	return nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update "+kind, err)
	}
	if n == 0 {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// SaveScheme validates and stores a marking scheme. An empty id is filled in.
func (s *Store) SaveScheme(ctx context.Context, scheme *model.MarkingScheme) error {
	if err := scheme.Validate(); err != nil {
		return fmt.Errorf("invalid scheme: %w", err)
	}
	if scheme.ID == "" {
		scheme.ID = uuid.NewString()
	}

	body, err := encode(scheme)
	if err != nil {
		return persistErr("encode scheme", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schemes (id, body, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body`,
		scheme.ID, body, time.Now().UTC(),
	)
	return persistErr("save scheme", err)
}

// GetScheme returns a scheme by id. The stored document is validated again.
func (s *Store) GetScheme(ctx context.Context, id string) (*model.MarkingScheme, error) {
	var scheme model.MarkingScheme
	if err := s.getDocument(ctx, "scheme", `SELECT body FROM schemes WHERE id = ?`, id, &scheme); err != nil {
		return nil, err
	}
	if err := scheme.Validate(); err != nil {
		return nil, persistErr("load scheme "+id, err)
	}
	return &scheme, nil
}

// CreateSession stores a new session for an existing scheme
func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	if _, err := s.GetScheme(ctx, session.SchemeID); err != nil {
		return err
	}
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, scheme_id, name, processed_count, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.SchemeID, session.Name, session.ProcessedCount, session.CreatedAt,
	)
	return persistErr("create session", err)
}

// GetSession returns a session by id
func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scheme_id, name, processed_count, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&session.ID, &session.SchemeID, &session.Name, &session.ProcessedCount, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return nil, persistErr("get session", err)
	}
	return &session, nil
}

// IncrementProcessed adds one to the session's processed counter
func (s *Store) IncrementProcessed(ctx context.Context, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET processed_count = processed_count + 1 WHERE id = ?`, sessionID)
	if err != nil {
		return persistErr("increment processed", err)
	}
	return requireRow(res, "session", sessionID)
}
