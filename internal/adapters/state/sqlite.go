package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

//go:embed migrations/002_add_checksum.sql
var migrationV2 string

// timestampLayout is fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements core.WorkflowStore with SQLite storage. Steps
// are stored one row each, in sequence order.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB // Write connection
	readDB *sql.DB // Read-only connection

	maxRetries    int
	baseRetryWait time.Duration
}

// SQLiteStoreOption configures the store.
type SQLiteStoreOption func(*SQLiteStore)

// WithSQLiteRetries sets how often a busy write is retried.
func WithSQLiteRetries(n int, baseWait time.Duration) SQLiteStoreOption {
	return func(s *SQLiteStore) {
		s.maxRetries = n
		s.baseRetryWait = baseWait
	}
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		dbPath:        dbPath,
		maxRetries:    5,
		baseRetryWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
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

	// The read pool is opened after migrating so the schema exists.
	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&mode=ro&_pragma=busy_timeout(1000)")
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

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	for i, migration := range []string{migrationV1, migrationV2} {
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
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
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

func (s *SQLiteStore) retryWrite(ctx context.Context, operation string, fn func() error) error {
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

// Save upserts the workflow and replaces its steps in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, rec *core.WorkflowRecord) (core.WorkflowID, error) {
	cp, _, sum, err := prepareRecord(rec)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC().Format(timestampLayout)

	err = s.retryWrite(ctx, "Save", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflows (id, name, description, next_seq, checksum, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				description = excluded.description,
				next_seq = excluded.next_seq,
				checksum = excluded.checksum,
				updated_at = excluded.updated_at
		`, cp.ID, cp.Name, cp.Description, cp.NextSeq, sum, now, now)
		if err != nil {
			return fmt.Errorf("upserting workflow: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM steps WHERE workflow_id = ?", cp.ID); err != nil {
			return fmt.Errorf("deleting existing steps: %w", err)
		}
		for i, st := range cp.Steps {
			inputs, err := json.Marshal(st.Inputs)
			if err != nil {
				return fmt.Errorf("marshaling inputs of %s: %w", st.ID, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO steps (workflow_id, position, id, text, output_id, inputs)
				VALUES (?, ?, ?, ?, ?, ?)
			`, cp.ID, i, st.ID, st.Text, st.OutputID, string(inputs))
			if err != nil {
				return fmt.Errorf("inserting step %s: %w", st.ID, err)
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return "", err
	}
	return core.WorkflowID(cp.ID), nil
}

// Load reads a workflow and verifies its checksum.
func (s *SQLiteStore) Load(ctx context.Context, id core.WorkflowID) (*core.WorkflowRecord, error) {
	rec := &core.WorkflowRecord{}
	var sum string
	err := s.readDB.QueryRowContext(ctx, `
		SELECT id, name, description, next_seq, checksum FROM workflows WHERE id = ?
	`, string(id)).Scan(&rec.ID, &rec.Name, &rec.Description, &rec.NextSeq, &sum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errWorkflowNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}

	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, text, output_id, inputs FROM steps
		WHERE workflow_id = ? ORDER BY position ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	rec.Steps = make([]core.StepRecord, 0)
	for rows.Next() {
		var st core.StepRecord
		var inputs string
		if err := rows.Scan(&st.ID, &st.Text, &st.OutputID, &inputs); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		if err := json.Unmarshal([]byte(inputs), &st.Inputs); err != nil {
			return nil, core.ErrState(core.CodeStateCorrupted, "malformed inputs for step "+st.ID).WithCause(err)
		}
		rec.Steps = append(rec.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating steps: %w", err)
	}

	if sum != "" {
		_, _, got, err := prepareRecord(rec)
		if err != nil {
			return nil, err
		}
		if got != sum {
			return nil, core.ErrState(core.CodeStateCorrupted, "workflow checksum mismatch").
				WithDetail("workflow_id", string(id))
		}
	}
	return rec, nil
}

// List returns summaries, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]core.WorkflowSummary, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT w.id, w.name, w.description, w.updated_at,
			(SELECT COUNT(*) FROM steps s WHERE s.workflow_id = w.id)
		FROM workflows w
		ORDER BY w.updated_at DESC, w.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}
	defer rows.Close()

	summaries := make([]core.WorkflowSummary, 0)
	for rows.Next() {
		var sum core.WorkflowSummary
		var id, updatedAt string
		if err := rows.Scan(&id, &sum.Name, &sum.Description, &updatedAt, &sum.StepCount); err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		sum.ID = core.WorkflowID(id)
		sum.UpdatedAt, _ = time.Parse(timestampLayout, updatedAt)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes a workflow and its steps.
func (s *SQLiteStore) Delete(ctx context.Context, id core.WorkflowID) error {
	var affected int64
	err := s.retryWrite(ctx, "Delete", func() error {
		res, err := s.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", string(id))
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}
	if affected == 0 {
		return errWorkflowNotFound(id)
	}
	return nil
}

// Close closes both database connections.
func (s *SQLiteStore) Close() error {
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
