package cli

import (
	"errors"
	"fmt"

	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/felixgeelhaar/plangrid/pkg/infrastructure/relay"
)

// CLIError wraps domain errors with user-facing messages and actionable hints.
type CLIError struct {
	Message  string
	Hint     string
	Err      error
	ExitCode int
}

func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a CLIError with a default exit code of 1.
func NewCLIError(msg, hint string, err error) *CLIError {
	return &CLIError{
		Message:  msg,
		Hint:     hint,
		Err:      err,
		ExitCode: 1,
	}
}

// MapError converts known domain errors into CLIErrors with actionable hints.
// Unmapped errors are returned as-is.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return err
	}

	var valErr *application.ValidationError
	if errors.As(err, &valErr) {
		return NewCLIError(valErr.Message, "The value was not changed", err)
	}

	var refused *relay.RefusedError
	if errors.As(err, &refused) {
		return NewCLIError("the relay refused the change", "Run 'plangrid show' to see the current plan", err)
	}

	switch {
	case errors.Is(err, domain.ErrProjectNotFound):
		return NewCLIError("project not found", "Run 'plangrid init <project>' to create it", err)
	case errors.Is(err, domain.ErrInvalidProjectName):
		return NewCLIError("invalid project name", "Start with a letter and use letters, digits, '-' and '_'", err)
	case errors.Is(err, tree.ErrTaskNotFound):
		return NewCLIError("task not found", "Run 'plangrid show <project>' to list task ids", err)
	case errors.Is(err, tree.ErrMaxDepth):
		return NewCLIError("tasks nest at most four levels deep", "Add the task under a higher-level parent", err)
	case errors.Is(err, tree.ErrNoSibling):
		return NewCLIError("task is already at the edge", "Move it the other way", err)
	case errors.Is(err, application.ErrNothingToUndo):
		return NewCLIError("nothing to undo", "", err)
	case errors.Is(err, application.ErrNoFileStore):
		return NewCLIError("no file storage configured", "Check storage settings in .plangrid/config.yaml", err)
	}

	return err
}
