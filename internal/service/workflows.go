package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
	"github.com/hugo-lorenzo-mato/promptflow/internal/events"
	"github.com/hugo-lorenzo-mato/promptflow/internal/logging"
)

// WorkflowService applies authoring operations to stored workflows.
// Writers to the same workflow are serialized; each mutation loads the
// record, applies the change to a copy, validates and saves it.
type WorkflowService struct {
	store  core.WorkflowStore
	files  core.FileStore
	bus    *events.EventBus
	logger *logging.Logger

	locks sync.Map // core.WorkflowID -> *sync.Mutex
}

// WorkflowServiceOption configures a WorkflowService.
type WorkflowServiceOption func(*WorkflowService)

// WithWorkflowEvents publishes workflow change events.
func WithWorkflowEvents(bus *events.EventBus) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.bus = bus
	}
}

// WithWorkflowLogger sets the logger.
func WithWorkflowLogger(l *logging.Logger) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewWorkflowService creates a WorkflowService. files may be nil, in
// which case file references cannot be added.
func NewWorkflowService(store core.WorkflowStore, files core.FileStore, opts ...WorkflowServiceOption) *WorkflowService {
	s := &WorkflowService{
		store:  store,
		files:  files,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WorkflowService) lock(id core.WorkflowID) func() {
	m, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Create stores a new workflow. Steps given in rec are validated as a
// whole; an empty record yields an empty workflow.
func (s *WorkflowService) Create(ctx context.Context, rec *core.WorkflowRecord) (*core.Workflow, error) {
	if rec == nil {
		rec = &core.WorkflowRecord{}
	}
	if strings.TrimSpace(rec.Name) == "" {
		return nil, core.ErrValidation(core.CodeInvalidRecord, "workflow name is required")
	}
	for _, st := range rec.Steps {
		if err := validateStepText(st.Text); err != nil {
			return nil, err
		}
	}
	wf, err := core.FromRecord(rec)
	if err != nil {
		return nil, err
	}
	id, err := s.store.Save(ctx, wf.Record())
	if err != nil {
		return nil, fmt.Errorf("saving workflow: %w", err)
	}
	wf.ID = id

	s.logger.Info("workflow created", "workflow_id", id, "steps", wf.Len())
	s.publish(events.NewWorkflowUpdatedEvent(string(id), "create", wf.Len()))
	return wf, nil
}

// Get loads a workflow.
func (s *WorkflowService) Get(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	rec, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return core.FromRecord(rec)
}

// List returns summaries of all stored workflows.
func (s *WorkflowService) List(ctx context.Context) ([]core.WorkflowSummary, error) {
	return s.store.List(ctx)
}

// Delete removes a workflow.
func (s *WorkflowService) Delete(ctx context.Context, id core.WorkflowID) error {
	unlock := s.lock(id)
	defer unlock()

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.locks.Delete(id)
	s.logger.Info("workflow deleted", "workflow_id", id)
	s.publish(events.NewWorkflowDeletedEvent(string(id)))
	return nil
}

// Mutate applies fn to a copy of the stored workflow and saves the result
// if fn succeeds and the workflow still validates. On any error the
// stored workflow is unchanged.
func (s *WorkflowService) Mutate(ctx context.Context, id core.WorkflowID, operation string, fn func(*core.Workflow) error) (*core.Workflow, error) {
	unlock := s.lock(id)
	defer unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	wf := current.Clone()
	if err := fn(wf); err != nil {
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.Save(ctx, wf.Record()); err != nil {
		return nil, fmt.Errorf("saving workflow %s: %w", id, err)
	}

	s.logger.Debug("workflow updated", "workflow_id", id, "operation", operation)
	s.publish(events.NewWorkflowUpdatedEvent(string(id), operation, wf.Len()))
	return wf, nil
}

// Rename sets the name and description.
func (s *WorkflowService) Rename(ctx context.Context, id core.WorkflowID, name, description string) (*core.Workflow, error) {
	if strings.TrimSpace(name) == "" {
		return nil, core.ErrValidation(core.CodeInvalidRecord, "workflow name is required")
	}
	return s.Mutate(ctx, id, "rename", func(wf *core.Workflow) error {
		wf.Name = name
		wf.Description = description
		return nil
	})
}

// AddStep appends a step and returns it with the updated workflow.
func (s *WorkflowService) AddStep(ctx context.Context, id core.WorkflowID, text string) (*core.Step, *core.Workflow, error) {
	if err := validateStepText(text); err != nil {
		return nil, nil, err
	}
	var added *core.Step
	wf, err := s.Mutate(ctx, id, "add_step", func(wf *core.Workflow) error {
		added = wf.AddStep(text)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return added, wf, nil
}

// EditStep replaces a step's text. Inputs are not reparsed.
func (s *WorkflowService) EditStep(ctx context.Context, id core.WorkflowID, stepID core.StepID, text string) (*core.Workflow, error) {
	if err := validateStepText(text); err != nil {
		return nil, err
	}
	return s.Mutate(ctx, id, "edit_step", func(wf *core.Workflow) error {
		return wf.EditStepText(stepID, text)
	})
}

// DeleteStep removes a step. References to its output are left dangling.
func (s *WorkflowService) DeleteStep(ctx context.Context, id core.WorkflowID, stepID core.StepID) (*core.Workflow, error) {
	return s.Mutate(ctx, id, "delete_step", func(wf *core.Workflow) error {
		return wf.DeleteStep(stepID)
	})
}

// ReorderSteps applies a new step order.
func (s *WorkflowService) ReorderSteps(ctx context.Context, id core.WorkflowID, order []core.StepID) (*core.Workflow, error) {
	return s.Mutate(ctx, id, "reorder", func(wf *core.Workflow) error {
		return wf.ReorderSteps(order)
	})
}

// AddReference appends an output or file reference to a step.
func (s *WorkflowService) AddReference(ctx context.Context, id core.WorkflowID, stepID core.StepID, ref core.Reference) (*core.Workflow, error) {
	switch ref.Kind {
	case core.ReferenceOutput:
		return s.Mutate(ctx, id, "add_reference", func(wf *core.Workflow) error {
			return wf.AppendOutputReference(stepID, ref.TargetID)
		})
	case core.ReferenceFile:
		catalog, err := s.fileCatalog(ctx)
		if err != nil {
			return nil, err
		}
		return s.Mutate(ctx, id, "add_reference", func(wf *core.Workflow) error {
			return wf.AppendFileReference(stepID, ref.TargetID, catalog)
		})
	default:
		return nil, core.ErrInvalidReference(stepID, ref, "unknown reference kind")
	}
}

// Clear removes every step.
func (s *WorkflowService) Clear(ctx context.Context, id core.WorkflowID) (*core.Workflow, error) {
	return s.Mutate(ctx, id, "clear", func(wf *core.Workflow) error {
		wf.Clear()
		return nil
	})
}

// Import stores a workflow from a record, keeping its id when present.
func (s *WorkflowService) Import(ctx context.Context, rec *core.WorkflowRecord) (*core.Workflow, error) {
	if rec == nil {
		return nil, core.ErrValidation(core.CodeInvalidRecord, "record is nil")
	}
	if rec.ID == "" {
		return s.Create(ctx, rec)
	}
	unlock := s.lock(core.WorkflowID(rec.ID))
	defer unlock()

	wf, err := core.FromRecord(rec)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Save(ctx, wf.Record()); err != nil {
		return nil, fmt.Errorf("importing workflow %s: %w", rec.ID, err)
	}
	s.publish(events.NewWorkflowUpdatedEvent(string(wf.ID), "import", wf.Len()))
	return wf, nil
}

// Inspection is a workflow together with its derived diagnostics.
type Inspection struct {
	Workflow    *core.Workflow
	Dangling    map[core.StepID][]core.Reference
	MarkerDrift map[core.StepID][]core.Reference
}

// Inspect loads a workflow and reports dangling references and inputs
// whose marker no longer appears in the step text.
func (s *WorkflowService) Inspect(ctx context.Context, id core.WorkflowID) (*Inspection, error) {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	catalog, err := s.fileCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return &Inspection{
		Workflow:    wf,
		Dangling:    DanglingByStep(wf, catalog),
		MarkerDrift: wf.MarkerDrift(),
	}, nil
}

// Graph builds the reference graph of a stored workflow.
func (s *WorkflowService) Graph(ctx context.Context, id core.WorkflowID) (*Graph, error) {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	catalog, err := s.fileCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return BuildGraph(wf, catalog), nil
}

func (s *WorkflowService) fileCatalog(ctx context.Context) (core.FileSet, error) {
	if s.files == nil {
		return core.NewFileSet(), nil
	}
	list, err := s.files.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return core.FileSetOf(list), nil
}

func (s *WorkflowService) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

func validateStepText(text string) error {
	if strings.TrimSpace(text) == "" {
		return core.ErrValidation(core.CodeEmptyPrompt, "step text cannot be empty")
	}
	if len(text) > core.MaxPromptLength {
		return core.ErrValidation(core.CodePromptTooLong,
			fmt.Sprintf("step text exceeds %d characters", core.MaxPromptLength))
	}
	return nil
}
