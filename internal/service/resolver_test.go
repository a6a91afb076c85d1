package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/hugo-lorenzo-mato/promptflow/internal/core"
)

func TestResolveStep_OutputAndFile(t *testing.T) {
	wf, a, b := twoStepWorkflow(t)
	if err := wf.AppendFileReference(b.ID, "doc.pdf", core.NewFileSet("doc.pdf")); err != nil {
		t.Fatalf("append file: %v", err)
	}

	sr := ResolveStep(wf, 1, core.NewFileSet("doc.pdf"))
	if sr.HasDangling() {
		t.Fatalf("expected all inputs resolved, got %v", sr.Dangling())
	}
	if sr.Inputs[0].Producer != wf.Steps[0] || sr.Inputs[0].Position != 0 {
		t.Errorf("expected producer %s at 0, got %+v", a.ID, sr.Inputs[0])
	}
	if sr.Inputs[1].FileName != "doc.pdf" {
		t.Errorf("expected file name, got %q", sr.Inputs[1].FileName)
	}
	if err := sr.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestResolveStep_Dangling(t *testing.T) {
	wf, a, b := twoStepWorkflow(t)
	if err := wf.AppendFileReference(b.ID, "doc.pdf", core.NewFileSet("doc.pdf")); err != nil {
		t.Fatalf("append file: %v", err)
	}
	if err := wf.DeleteStep(a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	sr := ResolveStep(wf, 0, core.NewFileSet())
	dangling := sr.Dangling()
	if len(dangling) != 2 {
		t.Fatalf("expected 2 dangling inputs, got %v", dangling)
	}

	err := sr.Err()
	if !core.IsCode(err, core.CodeUnresolvedReference) {
		t.Fatalf("expected UNRESOLVED_REFERENCE, got %v", err)
	}
	// Each dangling input is reported separately.
	var joined interface{ Unwrap() []error }
	if !errors.As(errors.Unwrap(err), &joined) || len(joined.Unwrap()) != 2 {
		t.Errorf("expected one joined error per dangling input, got %v", err)
	}
	if !strings.Contains(err.Error(), "2 dangling") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestResolveStep_ForwardProducerDoesNotResolve(t *testing.T) {
	wf, a, b := twoStepWorkflow(t)
	// Swap positions directly, bypassing reorder validation.
	wf.Steps[0], wf.Steps[1] = wf.Steps[1], wf.Steps[0]

	sr := ResolveStep(wf, 0, nil)
	if !sr.HasDangling() {
		t.Fatalf("expected %s -> %s to be unresolved when the producer comes later", a.ID, b.ID)
	}
}

func TestDanglingByStep(t *testing.T) {
	wf, a, b := twoStepWorkflow(t)
	_ = wf.DeleteStep(a.ID)

	got := DanglingByStep(wf, nil)
	refs, ok := got[b.ID]
	if !ok || len(refs) != 1 || refs[0].TargetID != a.OutputID {
		t.Fatalf("unexpected dangling map %v", got)
	}
}
