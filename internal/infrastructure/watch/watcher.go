package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ProjectWatcher watches a projects directory and reports which projects
// changed, batched per debounce window.
type ProjectWatcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	only     map[string]bool
	onChange func(projects []string)
	logger   *slog.Logger
}

// NewProjectWatcher watches dir. When projects is non-empty, changes to other
// projects are ignored.
func NewProjectWatcher(dir string, debounce time.Duration, projects []string, onChange func([]string)) (*ProjectWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce == 0 {
		debounce = 200 * time.Millisecond
	}
	only := make(map[string]bool, len(projects))
	for _, p := range projects {
		only[p] = true
	}
	return &ProjectWatcher{
		watcher:  w,
		debounce: debounce,
		only:     only,
		onChange: onChange,
		logger:   slog.Default(),
	}, nil
}

// WithLogger sets the logger for dropped watcher errors.
func (w *ProjectWatcher) WithLogger(logger *slog.Logger) *ProjectWatcher {
	if logger != nil {
		w.logger = logger
	}
	return w
}

// Run starts the event loop. It blocks until the context is cancelled.
func (w *ProjectWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	debouncer := NewDebouncer(w.debounce, func(projects []string) {
		if w.onChange != nil {
			w.onChange(projects)
		}
	})
	defer debouncer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			// Stores replace files by rename, so the new name arrives as a create.
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			project, ok := ProjectOf(event.Name)
			if !ok || (len(w.only) > 0 && !w.only[project]) {
				continue
			}
			debouncer.Trigger(project)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}
