package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	step_count  INTEGER NOT NULL DEFAULT 0,
	record      JSONB NOT NULL,
	checksum    TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`

// PostgresStore implements core.WorkflowStore on PostgreSQL. The record
// is kept as JSONB next to the columns needed for listing.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool and ensures the schema exists.
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := db.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("creating workflows table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDSN opens a pool for dsn.
func NewPostgresStoreFromDSN(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "invalid postgres dsn").WithCause(err)
	}
	store, err := NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Save upserts the record.
func (s *PostgresStore) Save(ctx context.Context, rec *core.WorkflowRecord) (core.WorkflowID, error) {
	cp, data, sum, err := prepareRecord(rec)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflows (id, name, description, step_count, record, checksum, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			step_count = EXCLUDED.step_count,
			record = EXCLUDED.record,
			checksum = EXCLUDED.checksum,
			updated_at = EXCLUDED.updated_at
	`, cp.ID, cp.Name, cp.Description, len(cp.Steps), string(data), sum, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("upserting workflow: %w", err)
	}
	return core.WorkflowID(cp.ID), nil
}

// Load reads a record. JSONB does not preserve the encoded bytes, so the
// checksum is compared against a re-encoding of the decoded record.
func (s *PostgresStore) Load(ctx context.Context, id core.WorkflowID) (*core.WorkflowRecord, error) {
	var data []byte
	var sum string
	err := s.db.QueryRow(ctx, "SELECT record::text, checksum FROM workflows WHERE id = $1", string(id)).Scan(&data, &sum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errWorkflowNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow: %w", err)
	}
	rec, err := decodeRecord(data, "")
	if err != nil {
		return nil, err
	}
	if _, _, got, err := prepareRecord(rec); err != nil || got != sum {
		return nil, core.ErrState(core.CodeStateCorrupted, "workflow checksum mismatch").
			WithDetail("workflow_id", string(id))
	}
	return rec, nil
}

// List returns summaries, most recently updated first.
func (s *PostgresStore) List(ctx context.Context) ([]core.WorkflowSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, name, description, step_count, updated_at
		FROM workflows ORDER BY updated_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying workflows: %w", err)
	}
	defer rows.Close()

	summaries := make([]core.WorkflowSummary, 0)
	for rows.Next() {
		var sum core.WorkflowSummary
		var id string
		if err := rows.Scan(&id, &sum.Name, &sum.Description, &sum.StepCount, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		sum.ID = core.WorkflowID(id)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// Delete removes a workflow.
func (s *PostgresStore) Delete(ctx context.Context, id core.WorkflowID) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM workflows WHERE id = $1", string(id))
	if err != nil {
		return fmt.Errorf("deleting workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errWorkflowNotFound(id)
	}
	return nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
