package core

import (
	"errors"
	"fmt"
	"time"
)

// RunID uniquely identifies an execution run.
type RunID string

// RunStatus is the state of an execution run.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// StepStatus is the per-step outcome within a run.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult is either the generated text or the error for one step.
type StepResult struct {
	StepID      StepID     `json:"step_id"`
	OutputID    string     `json:"output_id"`
	Status      StepStatus `json:"status"`
	Output      string     `json:"output,omitempty"`
	Err         error      `json:"-"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// OK reports whether the step produced a value.
func (r StepResult) OK() bool {
	return r.Status == StepStatusCompleted
}

// ErrorCode returns the DomainError code of a failed step, if any.
func (r StepResult) ErrorCode() string {
	var de *DomainError
	if errors.As(r.Err, &de) {
		return de.Code
	}
	if r.Err != nil {
		return CodeServiceError
	}
	return ""
}

// RunState tracks the run state machine:
// idle -> running -> completed | failed | cancelled.
type RunState struct {
	Status      RunStatus
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// MarkRunning transitions idle -> running.
func (s *RunState) MarkRunning() error {
	if s.Status != RunStatusIdle && s.Status != "" {
		return fmt.Errorf("cannot start run in %s state", s.Status)
	}
	s.Status = RunStatusRunning
	now := time.Now()
	s.StartedAt = &now
	return nil
}

// Finish transitions running -> a terminal status.
func (s *RunState) Finish(status RunStatus) error {
	if !status.IsTerminal() {
		return fmt.Errorf("cannot finish run with non-terminal status %s", status)
	}
	if s.Status != RunStatusRunning {
		return fmt.Errorf("cannot finish run in %s state", s.Status)
	}
	s.Status = status
	now := time.Now()
	s.CompletedAt = &now
	return nil
}
