// Package state provides workflow persistence backends.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// prepareRecord returns a copy of rec with an id assigned and nil input
// slices normalized, plus its encoded form and checksum.
func prepareRecord(rec *core.WorkflowRecord) (*core.WorkflowRecord, []byte, string, error) {
	if rec == nil {
		return nil, nil, "", core.ErrValidation(core.CodeInvalidRecord, "record is nil")
	}
	cp := *rec
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.Steps = make([]core.StepRecord, len(rec.Steps))
	for i, s := range rec.Steps {
		if s.Inputs == nil {
			s.Inputs = []core.Reference{}
		} else {
			s.Inputs = append([]core.Reference(nil), s.Inputs...)
		}
		cp.Steps[i] = s
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return nil, nil, "", fmt.Errorf("marshaling workflow %s: %w", cp.ID, err)
	}
	return &cp, data, checksum(data), nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// decodeRecord parses an encoded record and verifies its checksum when one
// is given.
func decodeRecord(data []byte, want string) (*core.WorkflowRecord, error) {
	if want != "" && checksum(data) != want {
		return nil, core.ErrState(core.CodeStateCorrupted, "workflow checksum mismatch")
	}
	var rec core.WorkflowRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "malformed workflow record").WithCause(err)
	}
	return &rec, nil
}

func errWorkflowNotFound(id core.WorkflowID) *core.DomainError {
	err := core.ErrNotFound("workflow", string(id))
	err.Code = core.CodeWorkflowNotFound
	return err
}
