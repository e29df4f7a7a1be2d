package investigation

import (
	"errors"
	"fmt"
)

// ErrCannotContinue is matched by WorkflowError when a step is requested on a
// Run that is terminal, paused or out of steps.
var ErrCannotContinue = errors.New("run cannot continue")

// ErrInvalidTransition is matched by WorkflowError for illegal status changes.
var ErrInvalidTransition = errors.New("invalid run status transition")

// ValidationError reports malformed input to a constructor or transition.
// Retrying with the same input fails the same way.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + ": " + e.Message
}

func newValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// WorkflowError reports a caller-contract violation against a Run, such as
// executing a step on a finished investigation.
type WorkflowError struct {
	RunID  string
	Status RunStatus
	Reason string
	kind   error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow error: run %s (status %s): %s", e.RunID, e.Status, e.Reason)
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *WorkflowError) Unwrap() error {
	return e.kind
}

// CannotContinueError builds the error returned when run.CanContinue is false.
func CannotContinueError(run Run) *WorkflowError {
	reason := "run is in status " + string(run.Status())
	switch {
	case run.IsTerminal():
		reason = "run is terminal"
	case run.StepLimitReached():
		reason = fmt.Sprintf("step limit reached (%d/%d)", run.StepCount(), run.MaxSteps())
	}
	return &WorkflowError{RunID: run.ID(), Status: run.Status(), Reason: reason, kind: ErrCannotContinue}
}
