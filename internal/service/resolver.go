package service

import (
	"errors"
	"fmt"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

// Resolution is one step input annotated with where its value comes from.
type Resolution struct {
	Ref core.Reference

	// Producer and Position are set for resolved output references.
	Producer *core.Step
	Position int

	// FileName is set for resolved file references.
	FileName string

	// Err is an UNRESOLVED_REFERENCE error when the target is gone.
	Err error
}

// Resolved reports whether the reference points at an existing target.
func (r Resolution) Resolved() bool {
	return r.Err == nil
}

// StepResolution is the resolution of every input of one step, in order.
type StepResolution struct {
	Step     *core.Step
	Position int
	Inputs   []Resolution
}

// Dangling returns the references whose target no longer exists.
func (sr StepResolution) Dangling() []core.Reference {
	var out []core.Reference
	for _, in := range sr.Inputs {
		if !in.Resolved() {
			out = append(out, in.Ref)
		}
	}
	return out
}

// HasDangling reports whether any input is unresolved.
func (sr StepResolution) HasDangling() bool {
	for _, in := range sr.Inputs {
		if !in.Resolved() {
			return true
		}
	}
	return false
}

// Err returns nil when every input resolved. Otherwise it returns an
// UNRESOLVED_REFERENCE error whose cause joins one error per dangling input.
func (sr StepResolution) Err() error {
	var errs []error
	for _, in := range sr.Inputs {
		if in.Err != nil {
			errs = append(errs, in.Err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	targets := make([]string, 0, len(errs))
	for _, ref := range sr.Dangling() {
		targets = append(targets, ref.String())
	}
	return core.ErrValidation(core.CodeUnresolvedReference,
		fmt.Sprintf("step %s has %d dangling input(s)", sr.Step.ID, len(errs))).
		WithCause(errors.Join(errs...)).
		WithDetail("step_id", string(sr.Step.ID)).
		WithDetail("dangling", targets)
}

// ResolveStep resolves the inputs of the step at position in wf. An output
// reference resolves only to a step strictly earlier in the sequence.
func ResolveStep(wf *core.Workflow, position int, files core.FileCatalog) StepResolution {
	step := wf.Steps[position]
	sr := StepResolution{
		Step:     step,
		Position: position,
		Inputs:   make([]Resolution, len(step.Inputs)),
	}
	for i, ref := range step.Inputs {
		res := Resolution{Ref: ref, Position: -1}
		switch ref.Kind {
		case core.ReferenceOutput:
			producer, p, ok := wf.ProducerOf(ref.TargetID)
			if ok && p < position {
				res.Producer = producer
				res.Position = p
			} else {
				res.Err = core.ErrUnresolvedReference(step.ID, ref)
			}
		case core.ReferenceFile:
			if files != nil && files.HasFile(ref.TargetID) {
				res.FileName = ref.TargetID
			} else {
				res.Err = core.ErrUnresolvedReference(step.ID, ref)
			}
		default:
			res.Err = core.ErrUnresolvedReference(step.ID, ref)
		}
		sr.Inputs[i] = res
	}
	return sr
}

// ResolveWorkflow resolves every step of wf.
func ResolveWorkflow(wf *core.Workflow, files core.FileCatalog) []StepResolution {
	out := make([]StepResolution, len(wf.Steps))
	for i := range wf.Steps {
		out[i] = ResolveStep(wf, i, files)
	}
	return out
}

// DanglingByStep maps steps with unresolved inputs to those inputs.
func DanglingByStep(wf *core.Workflow, files core.FileCatalog) map[core.StepID][]core.Reference {
	out := make(map[core.StepID][]core.Reference)
	for _, sr := range ResolveWorkflow(wf, files) {
		if d := sr.Dangling(); len(d) > 0 {
			out[sr.Step.ID] = d
		}
	}
	return out
}
