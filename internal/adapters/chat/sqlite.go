// Package chat persists conversation threads and saved prompts.
package chat

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var chatMigrationV1 string

//go:embed migrations/002_saved_prompts.sql
var chatMigrationV2 string

const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteThreadStore implements core.ThreadStore with SQLite storage.
type SQLiteThreadStore struct {
	dbPath string
	db     *sql.DB // Write connection
	readDB *sql.DB // Read-only connection

	maxRetries    int
	baseRetryWait time.Duration
}

// SQLiteThreadStoreOption configures the store.
type SQLiteThreadStoreOption func(*SQLiteThreadStore)

// WithRetries sets how often a busy write is retried.
func WithRetries(n int, baseWait time.Duration) SQLiteThreadStoreOption {
	return func(s *SQLiteThreadStore) {
		s.maxRetries = n
		s.baseRetryWait = baseWait
	}
}

// NewSQLiteThreadStore opens (or creates) the chat database at dbPath.
func NewSQLiteThreadStore(dbPath string, opts ...SQLiteThreadStoreOption) (*SQLiteThreadStore, error) {
	s := &SQLiteThreadStore{
		dbPath:        dbPath,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating chat directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening write database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&mode=ro&_pragma=busy_timeout(1000)")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	s.readDB = readDB

	return s, nil
}

func (s *SQLiteThreadStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS chat_schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM chat_schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	for i, migration := range []string{chatMigrationV1, chatMigrationV2} {
		version := i + 1
		if version <= current {
			continue
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction: %w", err)
		}
		for _, stmt := range splitStatements(migration) {
			if _, err := tx.Exec(stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("executing migration v%d: %w", version, err)
			}
		}
		if _, err := tx.Exec(
			"INSERT INTO chat_schema_migrations (version, applied_at) VALUES (?, ?)",
			version, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration v%d: %w", version, err)
		}
	}
	return nil
}

// splitStatements splits a SQL script into statements, dropping comments.
func splitStatements(script string) []string {
	var statements []string
	for _, stmt := range strings.Split(script, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				lines = append(lines, line)
			}
		}
		if len(lines) > 0 {
			statements = append(statements, strings.Join(lines, "\n"))
		}
	}
	return statements
}

func (s *SQLiteThreadStore) retryWrite(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.baseRetryWait * time.Duration(1<<attempt)):
		}
	}
	return fmt.Errorf("%s failed after %d retries: %w", operation, s.maxRetries, lastErr)
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// AppendMessage adds a message to the end of a thread.
func (s *SQLiteThreadStore) AppendMessage(ctx context.Context, threadID string, msg core.Message) error {
	created := msg.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return s.retryWrite(ctx, "AppendMessage", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (thread_id, role, text, created_at) VALUES (?, ?, ?, ?)
		`, threadID, string(msg.Role), msg.Text, created.UTC().Format(timestampLayout))
		return err
	})
}

// ListMessages returns a thread in append order. Unknown threads are empty.
func (s *SQLiteThreadStore) ListMessages(ctx context.Context, threadID string) ([]core.Message, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT role, text, created_at FROM messages WHERE thread_id = ? ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := make([]core.Message, 0)
	for rows.Next() {
		var msg core.Message
		var role, created string
		if err := rows.Scan(&role, &msg.Text, &created); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = core.Role(role)
		msg.CreatedAt, _ = time.Parse(timestampLayout, created)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ClearMessages removes every message of a thread.
func (s *SQLiteThreadStore) ClearMessages(ctx context.Context, threadID string) error {
	return s.retryWrite(ctx, "ClearMessages", func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE thread_id = ?", threadID)
		return err
	})
}

// SavePrompt stores a reusable prompt.
func (s *SQLiteThreadStore) SavePrompt(ctx context.Context, text string) (*core.SavedPrompt, error) {
	p := &core.SavedPrompt{
		ID:        uuid.NewString(),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	err := s.retryWrite(ctx, "SavePrompt", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO saved_prompts (id, text, created_at) VALUES (?, ?, ?)
		`, p.ID, p.Text, p.CreatedAt.Format(timestampLayout))
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPrompts returns saved prompts, newest first.
func (s *SQLiteThreadStore) ListPrompts(ctx context.Context) ([]core.SavedPrompt, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, text, created_at FROM saved_prompts ORDER BY created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]core.SavedPrompt, 0)
	for rows.Next() {
		var p core.SavedPrompt
		var created string
		if err := rows.Scan(&p.ID, &p.Text, &created); err != nil {
			return nil, fmt.Errorf("scanning prompt: %w", err)
		}
		p.CreatedAt, _ = time.Parse(timestampLayout, created)
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// Close closes both database connections.
func (s *SQLiteThreadStore) Close() error {
	var errs []error
	if s.readDB != nil {
		if err := s.readDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing read connection: %w", err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing write connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
