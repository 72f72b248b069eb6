package services

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewStageError_PreservesExistingTag(t *testing.T) {
	inner := NewStageError(StageCVParsing, ErrCodeSecurityBlocked, errors.New("blocked"))

	// Re-wrapping at an outer stage must not clobber the original tag.
	outer := NewStageError(StageCompleting, ErrCodeInternal, inner)

	code, _, stage := ClassifyJobError(outer)
	if code != ErrCodeSecurityBlocked {
		t.Errorf("code = %q, want %q", code, ErrCodeSecurityBlocked)
	}
	if stage != StageCVParsing {
		t.Errorf("stage = %q, want %q", stage, StageCVParsing)
	}
}

func TestNewStageError_PreservesTagThroughWrapping(t *testing.T) {
	inner := NewStageError(StageSynthesis, ErrCodeProvider, errors.New("upstream outage"))
	wrapped := fmt.Errorf("pipeline run: %w", inner)

	tagged := NewStageError(StageCompleting, ErrCodeInternal, wrapped)

	code, _, stage := ClassifyJobError(tagged)
	if code != ErrCodeProvider || stage != StageSynthesis {
		t.Errorf("classification = (%q, %q), want (%q, %q)", code, stage, ErrCodeProvider, StageSynthesis)
	}
}

func TestClassifyJobError_UntaggedFallsBackToInternal(t *testing.T) {
	code, message, stage := ClassifyJobError(errors.New("something unexpected"))

	if code != ErrCodeInternal {
		t.Errorf("code = %q, want %q", code, ErrCodeInternal)
	}
	if message != "something unexpected" {
		t.Errorf("message = %q", message)
	}
	if stage != "" {
		t.Errorf("stage = %q, want empty", stage)
	}
}

func TestStageError_Unwrap(t *testing.T) {
	base := errors.New("base failure")
	tagged := NewStageError(StageProjectEvaluation, ErrCodeSchemaInvalid, base)

	if !errors.Is(tagged, base) {
		t.Error("errors.Is failed to reach the wrapped error")
	}
}

func TestSecurityBlockedError_Message(t *testing.T) {
	err := &SecurityBlockedError{
		Context: "uploaded file",
		Reasons: []string{"empty file", "not a PDF"},
	}
	got := err.Error()
	if !strings.Contains(got, "uploaded file") {
		t.Errorf("message %q missing context", got)
	}
	if !strings.Contains(got, "empty file; not a PDF") {
		t.Errorf("message %q missing joined reasons", got)
	}

	bare := &SecurityBlockedError{Context: "outbound prompt"}
	if !strings.Contains(bare.Error(), "outbound prompt") {
		t.Errorf("message %q missing context", bare.Error())
	}
}
