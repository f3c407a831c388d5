package domain

import (
	"context"
	"errors"
	"io"

	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// ErrProjectNotFound is returned by stores when a project has never been saved.
var ErrProjectNotFound = errors.New("project not found")

// DocumentStore persists the task tree of a project.
type DocumentStore interface {
	Load(ctx context.Context, project string) (*tree.Document, error)
	Save(ctx context.Context, project string, doc *tree.Document) error
}

// GridStore persists the grid form of a project. Only comments and
// formatting carry information the document does not.
type GridStore interface {
	LoadGrid(ctx context.Context, project string) (*grid.Grid, error)
	SaveGrid(ctx context.Context, project string, g *grid.Grid) error
}

// ProjectLister is implemented by stores that can enumerate their projects.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]string, error)
}

// PatchLog is the durable record of relayed patches.
type PatchLog interface {
	Append(ctx context.Context, p patch.Patch) error
	Since(ctx context.Context, project string, after int) ([]patch.Patch, error)
}

// FileStore keeps attachment contents.
type FileStore interface {
	Upload(ctx context.Context, name string, r io.Reader) (storedName string, err error)
	Delete(ctx context.Context, storedName string) error
}

// Contact is a directory entry shown in place of an assignee id.
type Contact struct {
	ID    string `yaml:"id" json:"id"`
	Name  string `yaml:"name" json:"name"`
	Email string `yaml:"email,omitempty" json:"email,omitempty"`
}

// Directory resolves contact ids for display.
type Directory interface {
	Resolve(id string) (Contact, bool)
}
