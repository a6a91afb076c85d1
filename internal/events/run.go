package events

import "time"

// Event type constants for execution runs.
const (
	TypeRunStarted    = "run_started"
	TypeRunFinished   = "run_finished"
	TypeStepStarted   = "step_started"
	TypeStepCompleted = "step_completed"
	TypeStepFailed    = "step_failed"
	TypeStepSkipped   = "step_skipped"
	TypeMessageAdded  = "message_added"
)

// RunStartedEvent is emitted when a run begins.
type RunStartedEvent struct {
	BaseEvent
	RunID      string `json:"run_id"`
	TotalSteps int    `json:"total_steps"`
}

// NewRunStartedEvent creates a new run started event.
func NewRunStartedEvent(workflowID, runID string, totalSteps int) RunStartedEvent {
	return RunStartedEvent{
		BaseEvent:  NewBaseEvent(TypeRunStarted, workflowID),
		RunID:      runID,
		TotalSteps: totalSteps,
	}
}

// RunFinishedEvent is emitted exactly once when a run reaches a terminal status.
type RunFinishedEvent struct {
	BaseEvent
	RunID     string        `json:"run_id"`
	Status    string        `json:"status"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// NewRunFinishedEvent creates a new run finished event.
func NewRunFinishedEvent(workflowID, runID, status string, completed, failed, skipped int, duration time.Duration) RunFinishedEvent {
	return RunFinishedEvent{
		BaseEvent: NewBaseEvent(TypeRunFinished, workflowID),
		RunID:     runID,
		Status:    status,
		Completed: completed,
		Failed:    failed,
		Skipped:   skipped,
		Duration:  duration,
	}
}

// StepEvent reports progress of a single step.
type StepEvent struct {
	BaseEvent
	RunID    string        `json:"run_id"`
	StepID   string        `json:"step_id"`
	OutputID string        `json:"output_id"`
	Position int           `json:"position"`
	Output   string        `json:"output,omitempty"`
	Code     string        `json:"code,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// NewStepStartedEvent creates a step started event.
func NewStepStartedEvent(workflowID, runID, stepID, outputID string, position int) StepEvent {
	return StepEvent{
		BaseEvent: NewBaseEvent(TypeStepStarted, workflowID),
		RunID:     runID,
		StepID:    stepID,
		OutputID:  outputID,
		Position:  position,
	}
}

// NewStepCompletedEvent creates a step completed event.
func NewStepCompletedEvent(workflowID, runID, stepID, outputID string, position int, output string, duration time.Duration) StepEvent {
	return StepEvent{
		BaseEvent: NewBaseEvent(TypeStepCompleted, workflowID),
		RunID:     runID,
		StepID:    stepID,
		OutputID:  outputID,
		Position:  position,
		Output:    output,
		Duration:  duration,
	}
}

// NewStepFailedEvent creates a step failed event.
func NewStepFailedEvent(workflowID, runID, stepID, outputID string, position int, code string, err error) StepEvent {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	return StepEvent{
		BaseEvent: NewBaseEvent(TypeStepFailed, workflowID),
		RunID:     runID,
		StepID:    stepID,
		OutputID:  outputID,
		Position:  position,
		Code:      code,
		Error:     errStr,
	}
}

// NewStepSkippedEvent creates a step skipped event.
func NewStepSkippedEvent(workflowID, runID, stepID, outputID string, position int) StepEvent {
	return StepEvent{
		BaseEvent: NewBaseEvent(TypeStepSkipped, workflowID),
		RunID:     runID,
		StepID:    stepID,
		OutputID:  outputID,
		Position:  position,
	}
}

// MessageAddedEvent is emitted when a message is appended to a thread log.
type MessageAddedEvent struct {
	BaseEvent
	ThreadID string `json:"thread_id"`
	Role     string `json:"role"`
	Text     string `json:"text"`
}

// NewMessageAddedEvent creates a message added event.
func NewMessageAddedEvent(workflowID, threadID, role, text string) MessageAddedEvent {
	return MessageAddedEvent{
		BaseEvent: NewBaseEvent(TypeMessageAdded, workflowID),
		ThreadID:  threadID,
		Role:      role,
		Text:      text,
	}
}
