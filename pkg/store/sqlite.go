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

	_ "modernc.org/sqlite"

	"botserver/pkg/script"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (creating when needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS dialog_runs (
		session_id TEXT PRIMARY KEY,
		bot TEXT NOT NULL,
		dialog TEXT NOT NULL,
		state TEXT NOT NULL,
		pending_variable TEXT,
		answers_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dialog_runs_updated ON dialog_runs(updated_at);

	CREATE TABLE IF NOT EXISTS transcript (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		bot TEXT NOT NULL,
		direction TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_session ON transcript(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, sessionID string) (*Run, error) {
	query := `
		SELECT session_id, bot, dialog, state, pending_variable,
		       answers_json, created_at, updated_at
		FROM dialog_runs WHERE session_id = ?`

	var (
		run                  Run
		state                string
		pending              sql.NullString
		answersJSON          string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&run.SessionID, &run.Bot, &run.Dialog, &state, &pending,
		&answersJSON, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan dialog run row: %w", err)
	}

	if err := json.Unmarshal([]byte(answersJSON), &run.Answers); err != nil {
		return nil, fmt.Errorf("decode answers for %s: %w", sessionID, err)
	}
	run.State = script.State(state)
	run.Pending = pending.String
	run.CreatedAt = time.Unix(createdAt, 0)
	run.UpdatedAt = time.Unix(updatedAt, 0)
	return &run, nil
}

// SaveRun upserts the run. CreatedAt is kept from the first save.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) error {
	if run == nil || run.SessionID == "" {
		return errors.New("save dialog run: session id is required")
	}

	answers := run.Answers
	if answers == nil {
		answers = []script.Answer{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}

	now := s.now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	var pending any
	if run.Pending != "" {
		pending = run.Pending
	}

	query := `
	INSERT INTO dialog_runs (session_id, bot, dialog, state, pending_variable, answers_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		bot = excluded.bot,
		dialog = excluded.dialog,
		state = excluded.state,
		pending_variable = excluded.pending_variable,
		answers_json = excluded.answers_json,
		updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, query,
		run.SessionID, run.Bot, run.Dialog, string(run.State), pending,
		string(answersJSON), run.CreatedAt.Unix(), run.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert dialog run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dialog_runs WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete dialog run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendTranscript(ctx context.Context, entry TranscriptEntry) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	query := `INSERT INTO transcript (session_id, bot, direction, text, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		entry.SessionID, entry.Bot, string(entry.Direction), entry.Text, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Transcript(ctx context.Context, sessionID string, limit int) (entries []TranscriptEntry, err error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, session_id, bot, direction, text, created_at FROM (
			SELECT id, session_id, bot, direction, text, created_at
			FROM transcript WHERE session_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close transcript rows: %w", closeErr)
		}
	}()

	for rows.Next() {
		var (
			entry     TranscriptEntry
			direction string
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.Bot, &direction, &entry.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		entry.Direction = Direction(direction)
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return entries, nil
}
