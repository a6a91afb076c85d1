package testutil

import (
	"testing"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// NewTestWorkflow creates a workflow with one step per text, in order.
// Use functional options to add references or override fields.
func NewTestWorkflow(t *testing.T, texts []string, opts ...func(*core.Workflow) error) *core.Workflow {
	t.Helper()
	wf := core.NewWorkflow("wf-test", "test workflow", "")
	for _, text := range texts {
		wf.AddStep(text)
	}
	for _, opt := range opts {
		if err := opt(wf); err != nil {
			t.Fatalf("building test workflow: %v", err)
		}
	}
	return wf
}

// RefOutput links the step at consumer to the output of the step at producer.
func RefOutput(consumer, producer int) func(*core.Workflow) error {
	return func(wf *core.Workflow) error {
		return wf.AppendOutputReference(wf.Steps[consumer].ID, wf.Steps[producer].OutputID)
	}
}

// RefFile links the step at consumer to a file assumed to exist.
func RefFile(consumer int, name string) func(*core.Workflow) error {
	return func(wf *core.Workflow) error {
		return wf.AppendFileReference(wf.Steps[consumer].ID, name, core.NewFileSet(name))
	}
}
