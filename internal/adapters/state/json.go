package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/fsutil"
)

// JSONStore implements core.WorkflowStore with one JSON file per workflow.
// Files are replaced atomically and carry a checksum of the record.
type JSONStore struct {
	dir string
	mu  sync.RWMutex
}

// envelope wraps a record with metadata.
type envelope struct {
	Version   int             `json:"version"`
	Checksum  string          `json:"checksum"`
	UpdatedAt time.Time       `json:"updated_at"`
	Workflow  json.RawMessage `json:"workflow"`
}

// NewJSONStore creates a store rooted at dir.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating workflow directory: %w", err)
	}
	return &JSONStore{dir: dir}, nil
}

func (s *JSONStore) path(id core.WorkflowID) (string, error) {
	name := string(id)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", core.ErrValidation(core.CodeInvalidRecord, "invalid workflow id: "+name)
	}
	return filepath.Join(s.dir, name+".json"), nil
}

// Save writes the record atomically.
func (s *JSONStore) Save(_ context.Context, rec *core.WorkflowRecord) (core.WorkflowID, error) {
	cp, data, sum, err := prepareRecord(rec)
	if err != nil {
		return "", err
	}
	id := core.WorkflowID(cp.ID)
	path, err := s.path(id)
	if err != nil {
		return "", err
	}

	out, err := json.MarshalIndent(envelope{
		Version:   1,
		Checksum:  sum,
		UpdatedAt: time.Now().UTC(),
		Workflow:  data,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling envelope: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fsutil.WriteFileAtomic(path, out, 0o600); err != nil {
		return "", fmt.Errorf("writing workflow file: %w", err)
	}
	return id, nil
}

// Load reads and verifies a record.
func (s *JSONStore) Load(_ context.Context, id core.WorkflowID) (*core.WorkflowRecord, error) {
	path, err := s.path(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	env, err := readEnvelope(path)
	s.mu.RUnlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, errWorkflowNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRecord(env.Workflow, env.Checksum)
}

func readEnvelope(path string) (*envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "malformed workflow file").WithCause(err)
	}
	// The checksum covers the compact encoding; the file is indented.
	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Workflow); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "malformed workflow record").WithCause(err)
	}
	env.Workflow = compact.Bytes()
	return &env, nil
}

// List returns summaries, most recently updated first. Unreadable files
// are skipped.
func (s *JSONStore) List(_ context.Context) ([]core.WorkflowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading workflow directory: %w", err)
	}
	summaries := make([]core.WorkflowSummary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		env, err := readEnvelope(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		rec, err := decodeRecord(env.Workflow, env.Checksum)
		if err != nil {
			continue
		}
		summaries = append(summaries, rec.Summarize(env.UpdatedAt))
	}
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].UpdatedAt.Equal(summaries[j].UpdatedAt) {
			return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
		}
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

// Delete removes a workflow file.
func (s *JSONStore) Delete(_ context.Context, id core.WorkflowID) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errWorkflowNotFound(id)
		}
		return fmt.Errorf("removing workflow file: %w", err)
	}
	return nil
}
