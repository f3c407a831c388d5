package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/gofrs/flock"
)

const PlangridDir = ".plangrid"
const ProjectsDir = "projects"
const FilesDir = "files"
const ContactsFile = "contacts.yaml"
const DocumentExt = ".json"
const GridExt = ".grid.json"
const PatchLogExt = ".patches.jsonl"
const lockExt = ".lock"

// FilesystemRepository stores one JSON document per project under
// .plangrid/projects. Reads and writes of a project hold a file lock so the
// relay server and CLI commands can share a workspace.
type FilesystemRepository struct {
	root          string
	retryConfig   retry.Config
	lockTimeout   time.Duration
	retryInterval time.Duration
}

func NewFilesystemRepository(root string) *FilesystemRepository {
	return &FilesystemRepository{
		root: root,
		retryConfig: retry.Config{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
		},
		lockTimeout:   3 * time.Second,
		retryInterval: 50 * time.Millisecond,
	}
}

// Root returns the workspace root directory.
func (r *FilesystemRepository) Root() string {
	return r.root
}

// Dir returns the .plangrid directory.
func (r *FilesystemRepository) Dir() string {
	return filepath.Join(r.root, PlangridDir)
}

func (r *FilesystemRepository) projectsDir() string {
	return filepath.Join(r.Dir(), ProjectsDir)
}

// ResolvePath ensures the path is a direct child of the projects directory
// and prevents traversal.
func (r *FilesystemRepository) ResolvePath(filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("filename cannot be empty")
	}

	baseDir := r.projectsDir()
	cleanPath := filepath.Clean(filepath.Join(baseDir, filename))
	if !strings.HasPrefix(cleanPath, baseDir) || filepath.Dir(cleanPath) != baseDir {
		return "", fmt.Errorf("invalid file path: %s", filename)
	}
	return cleanPath, nil
}

func (r *FilesystemRepository) projectPath(project, ext string) (string, error) {
	if _, err := domain.NewProjectID(project); err != nil {
		return "", err
	}
	return r.ResolvePath(project + ext)
}

func (r *FilesystemRepository) Initialize() error {
	// G301: Use 0700 for directories
	if err := os.MkdirAll(r.projectsDir(), 0700); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", PlangridDir, err)
	}
	return nil
}

func (r *FilesystemRepository) IsInitialized() bool {
	_, err := os.Stat(r.projectsDir())
	return err == nil
}

// withLock runs fn while holding the project's lock file.
func (r *FilesystemRepository) withLock(ctx context.Context, project string, fn func() error) error {
	path, err := r.projectPath(project, lockExt)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create projects directory: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()

	lock := flock.New(path)
	locked, err := lock.TryLockContext(ctx, r.retryInterval)
	if err != nil {
		return fmt.Errorf("failed to acquire lock for %s: %w", project, err)
	}
	if !locked {
		return fmt.Errorf("could not acquire lock for %s", project)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readJSON[T any](r *FilesystemRepository, ctx context.Context, project, ext string) (*T, error) {
	path, err := r.projectPath(project, ext)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", project, domain.ErrProjectNotFound)
	}

	retryer := retry.New[*T](r.retryConfig)
	return retryer.Do(ctx, func(ctx context.Context) (*T, error) {
		var v T
		err := r.withLock(ctx, project, func() error {
			// #nosec G304 -- Path is resolved and validated via ResolvePath
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
			}
			if err := json.Unmarshal(data, &v); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return &v, nil
	})
}

func writeJSON(r *FilesystemRepository, ctx context.Context, project, ext string, v any) error {
	path, err := r.projectPath(project, ext)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return r.withLock(ctx, project, func() error {
		return writeFile(path, data)
	})
}

// Load reads a project's task tree.
func (r *FilesystemRepository) Load(ctx context.Context, project string) (*tree.Document, error) {
	doc, err := readJSON[tree.Document](r, ctx, project, DocumentExt)
	if err != nil {
		return nil, err
	}
	doc.Normalize()
	return doc, nil
}

// Save writes a project's task tree, creating the project if needed.
func (r *FilesystemRepository) Save(ctx context.Context, project string, doc *tree.Document) error {
	return writeJSON(r, ctx, project, DocumentExt, doc)
}

// LoadGrid reads the grid stored next to a project's document.
func (r *FilesystemRepository) LoadGrid(ctx context.Context, project string) (*grid.Grid, error) {
	return readJSON[grid.Grid](r, ctx, project, GridExt)
}

// SaveGrid writes a project's grid.
func (r *FilesystemRepository) SaveGrid(ctx context.Context, project string, g *grid.Grid) error {
	return writeJSON(r, ctx, project, GridExt, g)
}

// Create writes an empty document unless the project already exists.
func (r *FilesystemRepository) Create(ctx context.Context, project string) (bool, error) {
	path, err := r.projectPath(project, DocumentExt)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	return true, r.Save(ctx, project, tree.NewDocument())
}

// ListProjects returns the names of stored projects in sorted order.
func (r *FilesystemRepository) ListProjects(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.projectsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, DocumentExt) || strings.HasSuffix(name, GridExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(name, DocumentExt))
	}
	slices.Sort(names)
	return names, nil
}

// DocumentPath returns the file holding a project's document, for watchers.
func (r *FilesystemRepository) DocumentPath(project string) (string, error) {
	return r.projectPath(project, DocumentExt)
}
