package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatValidation,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatValidation, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := &DomainError{Category: ErrCatExecution, Code: "X", Message: "msg"}
	err.WithDetail("k", "v")
	if err.Details == nil || err.Details["k"] != "v" {
		t.Fatalf("expected details to be set")
	}
}

func TestWorkflowErrorConstructors(t *testing.T) {
	ref := OutputRef("output-1")
	if e := ErrInvalidReference("step-2", ref, "gone"); e.Category != ErrCatValidation || e.Code != CodeInvalidReference {
		t.Fatalf("unexpected invalid reference error %v", e)
	}
	if e := ErrUnresolvedReference("step-2", ref); e.Details["target_id"] != "output-1" {
		t.Fatalf("expected target detail, got %v", e.Details)
	}
	if e := ErrOrderViolation("step-2", "output-1"); e.Retryable {
		t.Fatalf("order violation should not be retryable")
	}
	svc := ErrService("step-1", errors.New("boom"))
	if !svc.Retryable || !errors.Is(svc, svc.Cause) {
		t.Fatalf("expected retryable service error wrapping cause")
	}
	if e := ErrRunAlreadyInProgress("wf"); !IsCategory(e, ErrCatConflict) {
		t.Fatalf("expected conflict category")
	}
}

func TestIsCode(t *testing.T) {
	wrapped := fmt.Errorf("saving: %w", ErrOrderViolation("s", "o"))
	if !IsCode(wrapped, CodeOrderViolation) {
		t.Fatalf("expected wrapped code to match")
	}
	if IsCode(errors.New("plain"), CodeOrderViolation) {
		t.Fatalf("expected plain error not to match")
	}
}

func TestGetCategory(t *testing.T) {
	if GetCategory(ErrRateLimit("m")) != ErrCatRateLimit {
		t.Fatalf("expected rate_limit category")
	}
	if GetCategory(errors.New("plain")) != ErrCatInternal {
		t.Fatalf("expected internal category for non-domain error")
	}
	if !IsCategory(ErrAuth("m"), ErrCatAuth) {
		t.Fatalf("expected category match")
	}
	if !IsRetryable(ErrExecution("X", "m")) || IsRetryable(errors.New("plain")) {
		t.Fatalf("unexpected retryable classification")
	}
}
