package core

import (
	"fmt"
	"strconv"
	"strings"
)

// WorkflowID uniquely identifies a saved workflow.
type WorkflowID string

const (
	stepIDPrefix   = "step-"
	outputIDPrefix = "output-"
)

// Workflow is a named, ordered sequence of steps. Every mutating method
// validates first and leaves the workflow untouched on error.
type Workflow struct {
	ID          WorkflowID
	Name        string
	Description string
	Steps       []*Step

	// nextSeq feeds step and output identifiers. It only grows.
	nextSeq int
}

// NewWorkflow creates an empty workflow.
func NewWorkflow(id WorkflowID, name, description string) *Workflow {
	return &Workflow{
		ID:          id,
		Name:        name,
		Description: description,
		Steps:       make([]*Step, 0),
		nextSeq:     1,
	}
}

// Len returns the number of steps.
func (w *Workflow) Len() int {
	return len(w.Steps)
}

// StepIndex returns the position of a step, or -1.
func (w *Workflow) StepIndex(id StepID) int {
	for i, s := range w.Steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// GetStep retrieves a step by ID.
func (w *Workflow) GetStep(id StepID) (*Step, bool) {
	if i := w.StepIndex(id); i >= 0 {
		return w.Steps[i], true
	}
	return nil, false
}

// ProducerOf returns the step whose outputId matches and its position.
func (w *Workflow) ProducerOf(outputID string) (*Step, int, bool) {
	for i, s := range w.Steps {
		if s.OutputID == outputID {
			return s, i, true
		}
	}
	return nil, -1, false
}

// AddStep appends a new step with fresh identifiers and no inputs.
func (w *Workflow) AddStep(text string) *Step {
	if w.nextSeq < 1 {
		w.nextSeq = 1
	}
	n := w.nextSeq
	w.nextSeq++
	step := &Step{
		ID:       StepID(stepIDPrefix + strconv.Itoa(n)),
		Text:     text,
		OutputID: outputIDPrefix + strconv.Itoa(n),
		Inputs:   make([]Reference, 0),
	}
	w.Steps = append(w.Steps, step)
	return step
}

// EditStepText replaces a step's text. Inputs are not re-derived.
func (w *Workflow) EditStepText(id StepID, text string) error {
	step, ok := w.GetStep(id)
	if !ok {
		return errStepNotFound(id)
	}
	step.Text = text
	return nil
}

// DeleteStep removes a step. References to its output are left dangling.
func (w *Workflow) DeleteStep(id StepID) error {
	i := w.StepIndex(id)
	if i < 0 {
		return errStepNotFound(id)
	}
	w.Steps = append(w.Steps[:i], w.Steps[i+1:]...)
	return nil
}

// Clear removes every step. Identifier sequencing continues.
func (w *Workflow) Clear() {
	w.Steps = make([]*Step, 0)
}

// ReorderSteps rearranges steps to match order, which must be a
// permutation of the current step IDs. It fails with ORDER_VIOLATION if a
// step would precede the producer of an output it references.
func (w *Workflow) ReorderSteps(order []StepID) error {
	if len(order) != len(w.Steps) {
		return ErrValidation("INVALID_ORDER",
			fmt.Sprintf("order has %d entries, workflow has %d steps", len(order), len(w.Steps)))
	}
	reordered := make([]*Step, 0, len(order))
	seen := make(map[StepID]bool, len(order))
	for _, id := range order {
		if seen[id] {
			return ErrValidation("INVALID_ORDER", fmt.Sprintf("step %s listed twice", id))
		}
		seen[id] = true
		step, ok := w.GetStep(id)
		if !ok {
			return errStepNotFound(id)
		}
		reordered = append(reordered, step)
	}

	position := make(map[string]int, len(reordered))
	for i, s := range reordered {
		position[s.OutputID] = i
	}
	for i, s := range reordered {
		for _, in := range s.Inputs {
			if in.Kind != ReferenceOutput {
				continue
			}
			if p, ok := position[in.TargetID]; ok && p >= i {
				return ErrOrderViolation(s.ID, in.TargetID)
			}
		}
	}

	w.Steps = reordered
	return nil
}

// AppendOutputReference records that stepID consumes targetOutputID and
// appends the output marker to the step text.
func (w *Workflow) AppendOutputReference(stepID StepID, targetOutputID string) error {
	ref := OutputRef(targetOutputID)
	i := w.StepIndex(stepID)
	if i < 0 {
		return errStepNotFound(stepID)
	}
	_, p, ok := w.ProducerOf(targetOutputID)
	switch {
	case !ok:
		return ErrInvalidReference(stepID, ref, "no step produces this output")
	case p == i:
		return ErrInvalidReference(stepID, ref, "a step cannot reference its own output")
	case p > i:
		return ErrInvalidReference(stepID, ref, "producer comes later in the sequence")
	}
	w.appendReference(w.Steps[i], ref)
	return nil
}

// AppendFileReference records that stepID consumes the named file and
// appends the file marker to the step text.
func (w *Workflow) AppendFileReference(stepID StepID, name string, files FileCatalog) error {
	ref := FileRef(name)
	i := w.StepIndex(stepID)
	if i < 0 {
		return errStepNotFound(stepID)
	}
	if files == nil || !files.HasFile(name) {
		return ErrInvalidReference(stepID, ref, "file does not exist")
	}
	w.appendReference(w.Steps[i], ref)
	return nil
}

func (w *Workflow) appendReference(step *Step, ref Reference) {
	step.Text = appendMarker(step.Text, ref.Marker())
	step.Inputs = append(step.Inputs, ref)
}

// Validate checks structural invariants: unique identifiers, known
// reference kinds and no self or forward output references. References
// whose target is gone are allowed; they are reported at resolution time.
func (w *Workflow) Validate() error {
	ids := make(map[StepID]bool, len(w.Steps))
	outputs := make(map[string]int, len(w.Steps))
	for i, s := range w.Steps {
		if s == nil {
			return ErrValidation(CodeInvalidRecord, fmt.Sprintf("step %d is nil", i))
		}
		if s.ID == "" {
			return ErrValidation(CodeInvalidRecord, fmt.Sprintf("step %d has no id", i))
		}
		if ids[s.ID] {
			return ErrValidation(CodeInvalidRecord, fmt.Sprintf("duplicate step id %s", s.ID))
		}
		ids[s.ID] = true
		if s.OutputID == "" {
			return ErrValidation(CodeInvalidRecord, fmt.Sprintf("step %s has no output id", s.ID))
		}
		if _, dup := outputs[s.OutputID]; dup {
			return ErrValidation(CodeDuplicateOutput, fmt.Sprintf("output id %s is used twice", s.OutputID))
		}
		outputs[s.OutputID] = i
	}
	for i, s := range w.Steps {
		for _, in := range s.Inputs {
			if !in.Kind.IsValid() {
				return ErrValidation(CodeInvalidRecord,
					fmt.Sprintf("step %s has unknown reference kind %q", s.ID, in.Kind))
			}
			if in.Kind != ReferenceOutput {
				continue
			}
			if p, ok := outputs[in.TargetID]; ok && p >= i {
				return ErrInvalidReference(s.ID, in, "producer is not strictly earlier")
			}
		}
	}
	return nil
}

// MarkerDrift maps each step to the inputs whose marker is absent from its text.
func (w *Workflow) MarkerDrift() map[StepID][]Reference {
	drift := make(map[StepID][]Reference)
	for _, s := range w.Steps {
		if missing := s.MissingMarkers(); len(missing) > 0 {
			drift[s.ID] = missing
		}
	}
	return drift
}

// Clone returns a deep copy that can be mutated independently.
func (w *Workflow) Clone() *Workflow {
	c := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Description: w.Description,
		Steps:       make([]*Step, len(w.Steps)),
		nextSeq:     w.nextSeq,
	}
	for i, s := range w.Steps {
		c.Steps[i] = s.Clone()
	}
	return c
}

// syncSequence moves nextSeq past every numeric suffix in use, including
// targets of dangling references, so identifiers are never reissued.
func (w *Workflow) syncSequence() {
	maxSeq := 0
	bump := func(id, prefix string) {
		if n, ok := seqSuffix(id, prefix); ok && n > maxSeq {
			maxSeq = n
		}
	}
	for _, s := range w.Steps {
		bump(string(s.ID), stepIDPrefix)
		bump(s.OutputID, outputIDPrefix)
		for _, in := range s.Inputs {
			if in.Kind == ReferenceOutput {
				bump(in.TargetID, outputIDPrefix)
			}
		}
	}
	if w.nextSeq <= maxSeq {
		w.nextSeq = maxSeq + 1
	}
}

func seqSuffix(id, prefix string) (int, bool) {
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	n, err := strconv.Atoi(id[len(prefix):])
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func errStepNotFound(id StepID) *DomainError {
	err := ErrNotFound("step", string(id))
	err.Code = CodeStepNotFound
	return err
}
