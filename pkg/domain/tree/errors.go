package tree

import "errors"

// Domain errors for the task tree.
var (
	// ErrTaskNotFound indicates no task with the given id exists in the document.
	ErrTaskNotFound = errors.New("task not found")

	// ErrMaxDepth indicates an insert would exceed MaxLevels.
	ErrMaxDepth = errors.New("maximum subtask depth exceeded")

	// ErrSelfReference indicates a task listed itself as a predecessor.
	ErrSelfReference = errors.New("task cannot be its own predecessor")

	// ErrUnknownField indicates a field name outside the task schema.
	ErrUnknownField = errors.New("unknown task field")

	// ErrDuplicateID indicates an inserted task reuses an existing id.
	ErrDuplicateID = errors.New("duplicate task id")

	// ErrNoSibling indicates a reorder has no adjacent sibling to swap with.
	ErrNoSibling = errors.New("no adjacent sibling in that direction")

	// ErrWrongParent indicates a task is not a child of the given parent.
	ErrWrongParent = errors.New("task is not a child of the given parent")
)

// FieldError describes a value that could not be applied to a task field.
type FieldError struct {
	TaskID int64
	Field  Field
	Reason string
}

func (e *FieldError) Error() string {
	return "invalid value for " + string(e.Field) + ": " + e.Reason
}
