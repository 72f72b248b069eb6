package services

import (
	"errors"
	"fmt"
)

// ErrorCode is the stable machine-readable failure classification stored on a
// failed evaluation.
type ErrorCode string

const (
	ErrCodeValidation      ErrorCode = "validation_error"
	ErrCodeSecurityBlocked ErrorCode = "security_blocked"
	ErrCodeProvider        ErrorCode = "provider_error"
	ErrCodeSchemaInvalid   ErrorCode = "schema_invalid"
	ErrCodeInternal        ErrorCode = "internal_error"
)

// StageError tags an error with the pipeline stage that raised it. Every stage
// wraps its own failures before they propagate, so the job store never has to
// guess the failing stage from message text.
type StageError struct {
	Stage string
	Code  ErrorCode
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with its originating stage and classification. An
// already-tagged error keeps its original stage and code.
func NewStageError(stage string, code ErrorCode, err error) error {
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Code: code, Err: err}
}

// ClassifyJobError extracts the code, message and stage to persist for a
// failed job. Untagged errors fall back to internal_error with no stage.
func ClassifyJobError(err error) (code ErrorCode, message, stage string) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code, se.Err.Error(), se.Stage
	}
	return ErrCodeInternal, err.Error(), ""
}

// SecurityBlockedError is raised when the safety screener or injection
// detector vetoes content. It is never retried.
type SecurityBlockedError struct {
	Context string
	Reasons []string
}

func (e *SecurityBlockedError) Error() string {
	if len(e.Reasons) == 0 {
		return fmt.Sprintf("blocked by security screening (%s)", e.Context)
	}
	return fmt.Sprintf("blocked by security screening (%s): %s", e.Context, joinReasons(e.Reasons))
}

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
