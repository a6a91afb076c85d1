package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowRecord is the persisted shape of a workflow.
type WorkflowRecord struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Description string       `json:"description" yaml:"description"`
	Steps       []StepRecord `json:"steps" yaml:"steps"`

	// NextSeq carries the identifier sequence across saves. Records that
	// omit it have it derived from the identifiers in use.
	NextSeq int `json:"nextSeq,omitempty" yaml:"nextSeq,omitempty"`
}

// StepRecord is the persisted shape of a step.
type StepRecord struct {
	ID       string      `json:"id,omitempty" yaml:"id,omitempty"`
	Text     string      `json:"text" yaml:"text"`
	OutputID string      `json:"outputId" yaml:"outputId"`
	Inputs   []Reference `json:"inputs" yaml:"inputs"`
}

// WorkflowSummary is the listing view of a stored workflow.
type WorkflowSummary struct {
	ID          WorkflowID `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	StepCount   int        `json:"step_count"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Summarize derives the listing view of a record.
func (r *WorkflowRecord) Summarize(updatedAt time.Time) WorkflowSummary {
	return WorkflowSummary{
		ID:          WorkflowID(r.ID),
		Name:        r.Name,
		Description: r.Description,
		StepCount:   len(r.Steps),
		UpdatedAt:   updatedAt,
	}
}

// Record converts the workflow to its persisted shape.
func (w *Workflow) Record() *WorkflowRecord {
	rec := &WorkflowRecord{
		ID:          string(w.ID),
		Name:        w.Name,
		Description: w.Description,
		Steps:       make([]StepRecord, len(w.Steps)),
		NextSeq:     w.nextSeq,
	}
	for i, s := range w.Steps {
		inputs := make([]Reference, len(s.Inputs))
		copy(inputs, s.Inputs)
		rec.Steps[i] = StepRecord{
			ID:       string(s.ID),
			Text:     s.Text,
			OutputID: s.OutputID,
			Inputs:   inputs,
		}
	}
	return rec
}

// FromRecord rebuilds a workflow from its persisted shape. Steps without
// an ID (records written by older clients) are assigned one. The result
// is validated.
func FromRecord(rec *WorkflowRecord) (*Workflow, error) {
	if rec == nil {
		return nil, ErrValidation(CodeInvalidRecord, "record is nil")
	}
	w := NewWorkflow(WorkflowID(rec.ID), rec.Name, rec.Description)
	if rec.NextSeq > w.nextSeq {
		w.nextSeq = rec.NextSeq
	}
	w.Steps = make([]*Step, len(rec.Steps))
	for i, sr := range rec.Steps {
		inputs := make([]Reference, len(sr.Inputs))
		copy(inputs, sr.Inputs)
		w.Steps[i] = &Step{
			ID:       StepID(sr.ID),
			Text:     sr.Text,
			OutputID: sr.OutputID,
			Inputs:   inputs,
		}
	}
	w.syncSequence()
	for _, s := range w.Steps {
		if s.ID == "" {
			s.ID = StepID(fmt.Sprintf("%s%d", stepIDPrefix, w.nextSeq))
			w.nextSeq++
		}
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Serialize encodes the workflow as its JSON record.
func (w *Workflow) Serialize() ([]byte, error) {
	data, err := json.Marshal(w.Record())
	if err != nil {
		return nil, fmt.Errorf("marshaling workflow %s: %w", w.ID, err)
	}
	return data, nil
}

// Deserialize decodes a JSON record and rebuilds the workflow.
func Deserialize(data []byte) (*Workflow, error) {
	var rec WorkflowRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, ErrValidation(CodeInvalidRecord, "malformed workflow record").WithCause(err)
	}
	return FromRecord(&rec)
}
