package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidProjectName indicates a project name that cannot be stored.
var ErrInvalidProjectName = errors.New("invalid project name")

// idPattern matches valid project and contact ids: alphanumeric with hyphens/underscores
var idPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ProjectID is a validated project name. It is used as a file name, a URL
// path segment and a relay room, so the character set is restricted.
type ProjectID struct {
	value string
}

// NewProjectID creates a new ProjectID from a string value.
// Returns an error if the value is invalid.
func NewProjectID(value string) (ProjectID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ProjectID{}, fmt.Errorf("%w: name cannot be empty", ErrInvalidProjectName)
	}
	if !idPattern.MatchString(value) {
		return ProjectID{}, fmt.Errorf("%w: %q", ErrInvalidProjectName, value)
	}
	return ProjectID{value: value}, nil
}

// String returns the string representation of the ProjectID.
func (id ProjectID) String() string {
	return id.value
}

// ContactID identifies an entry of the contact directory.
type ContactID struct {
	value string
}

// NewContactID creates a new ContactID from a string value.
func NewContactID(value string) (ContactID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return ContactID{}, fmt.Errorf("contact ID cannot be empty")
	}
	if !idPattern.MatchString(value) {
		return ContactID{}, fmt.Errorf("invalid contact ID format: %s", value)
	}
	return ContactID{value: value}, nil
}

// String returns the string representation of the ContactID.
func (id ContactID) String() string {
	return id.value
}
