package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrFileNotFound is returned for a stored name with no file behind it.
var ErrFileNotFound = errors.New("file not found")

// LocalFileStore keeps attachment contents in a flat directory. Stored names
// are generated, so two uploads of the same file never collide.
type LocalFileStore struct {
	dir string
}

func NewLocalFileStore(dir string) *LocalFileStore {
	return &LocalFileStore{dir: dir}
}

func (s *LocalFileStore) resolve(stored string) (string, error) {
	if stored == "" || stored != filepath.Base(stored) || strings.HasPrefix(stored, ".") {
		return "", fmt.Errorf("invalid stored name: %q", stored)
	}
	return filepath.Join(s.dir, stored), nil
}

// Upload copies r into a new file and returns its stored name.
func (s *LocalFileStore) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return "", fmt.Errorf("create files directory: %w", err)
	}
	stored := uuid.New().String() + strings.ToLower(filepath.Ext(name))
	path, err := s.resolve(stored)
	if err != nil {
		return "", err
	}
	// #nosec G304 -- path is a generated name inside the files directory
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", stored, err)
	}
	if _, err := io.Copy(f, ctxReader{ctx: ctx, r: r}); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write %s: %w", stored, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close %s: %w", stored, err)
	}
	return stored, nil
}

// Open returns the contents of a stored file.
func (s *LocalFileStore) Open(_ context.Context, stored string) (io.ReadCloser, error) {
	path, err := s.resolve(stored)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- path is validated by resolve
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", stored, ErrFileNotFound)
	}
	return f, err
}

// Delete removes a stored file. Deleting a missing file is not an error.
func (s *LocalFileStore) Delete(_ context.Context, stored string) error {
	path, err := s.resolve(stored)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", stored, err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
