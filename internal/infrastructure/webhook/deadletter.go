package webhook

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DeadLetter is a patch notification that failed every attempt.
type DeadLetter struct {
	Timestamp   time.Time `json:"timestamp"`
	Project     string    `json:"project"`
	WebhookName string    `json:"webhook_name"`
	URL         string    `json:"url"`
	Op          string    `json:"op"`
	Payload     string    `json:"payload"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
}

// DeadLetterStore keeps failed deliveries in a JSONL file next to the
// workspace's projects. Lines are only ever appended.
type DeadLetterStore struct {
	path string
	mu   sync.Mutex
}

func NewDeadLetterStore(path string) *DeadLetterStore {
	return &DeadLetterStore{path: path}
}

func (s *DeadLetterStore) Append(dl DeadLetter) error {
	line, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create dead letter directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open dead letter file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("write dead letter: %w", err)
	}
	return f.Close()
}

// Read returns the failed deliveries of one project, oldest first. An empty
// project returns every entry. Lines that do not decode are skipped.
func (s *DeadLetterStore) Read(project string) ([]DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open dead letter file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []DeadLetter
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var dl DeadLetter
		if json.Unmarshal(sc.Bytes(), &dl) != nil {
			continue
		}
		if project == "" || dl.Project == project {
			out = append(out, dl)
		}
	}
	return out, sc.Err()
}
