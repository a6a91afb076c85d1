package events

// Event type constants for workflow and file changes.
const (
	TypeWorkflowUpdated = "workflow_updated"
	TypeWorkflowDeleted = "workflow_deleted"
	TypeFilesChanged    = "files_changed"
)

// WorkflowUpdatedEvent is emitted after a workflow mutation is saved.
// Clients rebuild the graph on receipt.
type WorkflowUpdatedEvent struct {
	BaseEvent
	Operation string `json:"operation"`
	StepCount int    `json:"step_count"`
}

// NewWorkflowUpdatedEvent creates a workflow updated event.
func NewWorkflowUpdatedEvent(workflowID, operation string, stepCount int) WorkflowUpdatedEvent {
	return WorkflowUpdatedEvent{
		BaseEvent: NewBaseEvent(TypeWorkflowUpdated, workflowID),
		Operation: operation,
		StepCount: stepCount,
	}
}

// WorkflowDeletedEvent is emitted when a workflow is removed.
type WorkflowDeletedEvent struct {
	BaseEvent
}

// NewWorkflowDeletedEvent creates a workflow deleted event.
func NewWorkflowDeletedEvent(workflowID string) WorkflowDeletedEvent {
	return WorkflowDeletedEvent{BaseEvent: NewBaseEvent(TypeWorkflowDeleted, workflowID)}
}

// FilesChangedEvent is emitted when a file is uploaded or deleted.
type FilesChangedEvent struct {
	BaseEvent
	Operation string `json:"operation"`
	Name      string `json:"name"`
}

// NewFilesChangedEvent creates a files changed event. It is not tied to
// a workflow.
func NewFilesChangedEvent(operation, name string) FilesChangedEvent {
	return FilesChangedEvent{
		BaseEvent: NewBaseEvent(TypeFilesChanged, ""),
		Operation: operation,
		Name:      name,
	}
}
