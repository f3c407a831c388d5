package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/google/uuid"
)

// LogEntry is one line of a project's patch log.
type LogEntry struct {
	Seq   int             `json:"seq"`
	ID    string          `json:"id"`
	At    time.Time       `json:"at"`
	Patch json.RawMessage `json:"patch"`
}

// FilePatchLog implements PatchLog with one JSON Lines file per project.
type FilePatchLog struct {
	mu   sync.Mutex
	dir  string
	seqs map[string]int
}

// NewFilePatchLog creates a patch log under dir. The directory is created
// on first write.
func NewFilePatchLog(dir string) *FilePatchLog {
	return &FilePatchLog{dir: dir, seqs: make(map[string]int)}
}

func (l *FilePatchLog) path(project string) (string, error) {
	if _, err := domain.NewProjectID(project); err != nil {
		return "", err
	}
	return filepath.Join(l.dir, project+PatchLogExt), nil
}

// Append adds a patch to its project's log.
func (l *FilePatchLog) Append(_ context.Context, p patch.Patch) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path, err := l.path(p.Project)
	if err != nil {
		return err
	}
	seq, ok := l.seqs[p.Project]
	if !ok {
		entries, err := readLog(path)
		if err != nil {
			return err
		}
		seq = len(entries)
	}

	data, err := patch.Encode(p)
	if err != nil {
		return err
	}
	line, err := json.Marshal(LogEntry{Seq: seq + 1, ID: uuid.New().String(), At: time.Now().UTC(), Patch: data})
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	if err := os.MkdirAll(l.dir, 0750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open patch log: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close patch log: %w", cerr)
		}
	}()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write patch log: %w", err)
	}
	l.seqs[p.Project] = seq + 1
	return nil
}

// Entries returns the log entries of a project with a sequence number above after.
func (l *FilePatchLog) Entries(_ context.Context, project string, after int) ([]LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	path, err := l.path(project)
	if err != nil {
		return nil, err
	}
	entries, err := readLog(path)
	if err != nil {
		return nil, err
	}
	var out []LogEntry
	for _, e := range entries {
		if e.Seq > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// Since returns the patches of a project logged after sequence number after.
func (l *FilePatchLog) Since(ctx context.Context, project string, after int) ([]patch.Patch, error) {
	entries, err := l.Entries(ctx, project, after)
	if err != nil {
		return nil, err
	}
	out := make([]patch.Patch, 0, len(entries))
	for _, e := range entries {
		p, err := patch.Decode(e.Patch)
		if err != nil {
			return nil, fmt.Errorf("patch log entry %d: %w", e.Seq, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func readLog(path string) ([]LogEntry, error) {
	// #nosec G304 -- path is built from a validated project name
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open patch log: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var result []LogEntry
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("unmarshal log entry: %w", err)
		}
		result = append(result, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan patch log: %w", err)
	}
	return result, nil
}
