package domain_test

import (
	"errors"
	"testing"

	"github.com/felixgeelhaar/plangrid/pkg/domain"
)

func TestProjectID(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"valid simple", "alpha-1", false},
		{"valid underscore", "q3_launch", false},
		{"valid alphanumeric", "roadmapABC123", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"starts with number", "2024plan", true},
		{"has spaces", "my plan", true},
		{"path traversal", "../etc", true},
		{"slash", "a/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := domain.NewProjectID(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewProjectID() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && id.String() != tt.value {
				t.Errorf("String() = %v, want %v", id.String(), tt.value)
			}
		})
	}
}

func TestProjectID_WrapsSentinel(t *testing.T) {
	_, err := domain.NewProjectID("../etc")
	if !errors.Is(err, domain.ErrInvalidProjectName) {
		t.Fatalf("expected ErrInvalidProjectName, got %v", err)
	}
}

func TestContactID(t *testing.T) {
	if _, err := domain.NewContactID("ana"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := domain.NewContactID("ana smith"); err == nil {
		t.Error("expected error for id with spaces")
	}
}
