package application

import (
	"errors"
	"fmt"
)

var (
	// ErrDerivedField indicates an edit to a field that is computed from subtasks.
	ErrDerivedField = errors.New("field is calculated from subtasks")

	// ErrDuplicateLabel indicates an edit that would give two tasks the same path label.
	ErrDuplicateLabel = errors.New("another task already has this label")

	// ErrReadOnlyCell indicates an edit to a display-only or unmapped cell.
	ErrReadOnlyCell = errors.New("cell is read-only")

	// ErrInvalidPredecessor indicates a predecessor that is missing, pending or the task itself.
	ErrInvalidPredecessor = errors.New("invalid predecessor")

	// ErrNotOpen indicates a session used before Open succeeded.
	ErrNotOpen = errors.New("session is not open")

	// ErrNothingToUndo indicates an empty undo or redo stack.
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrAttachmentNotFound indicates a stored file name not attached to the task.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrNoFileStore indicates an attachment operation without file storage.
	ErrNoFileStore = errors.New("no file storage configured")
)

// ValidationError is a local edit rejected at the edit boundary. The
// session has already reverted the edited value; Message is meant for the user.
type ValidationError struct {
	Target  string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Target, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Target, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(target, message string, err error) error {
	return &ValidationError{Target: target, Message: message, Err: err}
}
