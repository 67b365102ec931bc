package pipeline

import (
	"errors"
	"fmt"
)

// errCancelled marks cooperative cancellation. Its text is the fixed
// user-facing reason recorded on the task.
var errCancelled = errors.New("stopped by user")

// StageError is a stage-aware error recorded on the failing task.
type StageError struct {
	Stage   string
	Message string
	Err     error
}

// Error formats stage failures for task records and logs.
func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// stageErr builds a StageError wrapping cause.
func stageErr(stage, message string, cause error) *StageError {
	return &StageError{Stage: stage, Message: message, Err: cause}
}
