package core

import (
	"context"
	"io"
	"time"
)

// =============================================================================
// Generation Port
// =============================================================================

// Generator is the external text-generation service.
type Generator interface {
	// Name identifies the backend (e.g. "openai", "echo").
	Name() string

	// Generate sends one request and returns the generated text.
	Generate(ctx context.Context, request string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, request string) (string, error)

// Name implements Generator.
func (f GeneratorFunc) Name() string { return "func" }

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, request string) (string, error) {
	return f(ctx, request)
}

// =============================================================================
// File Port
// =============================================================================

// FileStore manages uploaded documents.
type FileStore interface {
	List(ctx context.Context) ([]FileResource, error)
	Upload(ctx context.Context, name string, r io.Reader) (*FileResource, error)
	Delete(ctx context.Context, name string) error
	// ReadContent returns the textual content used when a step references the file.
	ReadContent(ctx context.Context, name string) (string, error)
}

// =============================================================================
// Workflow Persistence Port
// =============================================================================

// WorkflowStore persists workflow records.
type WorkflowStore interface {
	// Save creates or replaces a record. An empty ID is assigned one.
	Save(ctx context.Context, rec *WorkflowRecord) (WorkflowID, error)
	Load(ctx context.Context, id WorkflowID) (*WorkflowRecord, error)
	List(ctx context.Context) ([]WorkflowSummary, error)
	Delete(ctx context.Context, id WorkflowID) error
}

// =============================================================================
// Chat Persistence Port
// =============================================================================

// SavedPrompt is a reusable prompt stored by the user.
type SavedPrompt struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ThreadStore persists conversation threads and saved prompts.
type ThreadStore interface {
	AppendMessage(ctx context.Context, threadID string, msg Message) error
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
	ClearMessages(ctx context.Context, threadID string) error

	SavePrompt(ctx context.Context, text string) (*SavedPrompt, error)
	ListPrompts(ctx context.Context) ([]SavedPrompt, error)
}
