package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/projection"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// Mode selects which representation a session presents.
type Mode int

const (
	// ModeTree applies every patch incrementally to the task tree.
	ModeTree Mode = iota
	// ModeGrid reloads from the store when rows shift.
	ModeGrid
)

func (m Mode) String() string {
	if m == ModeGrid {
		return "grid"
	}
	return "tree"
}

// ParseMode parses "tree" or "grid".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "tree", "":
		return ModeTree, nil
	case "grid":
		return ModeGrid, nil
	}
	return ModeTree, fmt.Errorf("invalid mode %q: expected tree or grid", s)
}

// SessionConfig wires a session to its collaborators. Store is required;
// everything else has a usable default.
type SessionConfig struct {
	Project  string
	User     string
	ClientID string
	Mode     Mode

	Store     domain.DocumentStore
	Grids     domain.GridStore
	Files     domain.FileStore
	Transport Transport
	View      View
	Notifier  Notifier
	Logger    *slog.Logger

	CoalesceWindow time.Duration
	UndoCapacity   int

	// RelayPersists marks a store that the relay already writes every
	// relayed patch to. Close then skips its final save, which could
	// overwrite patches this session has not received yet.
	RelayPersists bool
}

// Session is one user's editing session on a project. All mutation goes
// through its mutex, so local commits, remote patches and replays never
// interleave.
type Session struct {
	project  string
	user     string
	clientID string
	mode     Mode

	store     domain.DocumentStore
	grids     domain.GridStore
	files     domain.FileStore
	transport Transport
	view      View
	notifier  Notifier
	logger    *slog.Logger

	outbox *Outbox
	clock  *VersionClock

	mu     sync.Mutex
	state  *State
	undo   *UndoManager
	edits  uint64
	saved  uint64
	opened bool

	relayPersists bool
}

// NewSession validates the configuration and prepares a session. Call Open
// before use.
func NewSession(cfg SessionConfig) (*Session, error) {
	if _, err := domain.NewProjectID(cfg.Project); err != nil {
		return nil, err
	}
	if cfg.Store == nil {
		return nil, errors.New("session needs a document store")
	}
	s := &Session{
		project:   cfg.Project,
		user:      cfg.User,
		clientID:  cfg.ClientID,
		mode:      cfg.Mode,
		store:     cfg.Store,
		grids:     cfg.Grids,
		files:     cfg.Files,
		transport: cfg.Transport,
		view:      cfg.View,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger,
		clock:     NewVersionClock(),
		undo:      NewUndoManager(cfg.UndoCapacity),

		relayPersists: cfg.RelayPersists,
	}
	if s.clientID == "" {
		s.clientID = patch.NewClientID()
	}
	if s.view == nil {
		s.view = nopView{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("project", s.project, "client", s.clientID)
	if s.notifier == nil {
		s.notifier = LogNotifier{Logger: s.logger}
	}
	s.outbox = NewOutbox(cfg.CoalesceWindow, s.transmit, s.sendFailed, s.logger)
	return s, nil
}

// Open loads the project. A missing project is fatal for the session.
func (s *Session) Open(ctx context.Context) error {
	st, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.state = st
	s.opened = true
	s.mu.Unlock()
	s.logger.Info("session opened", "mode", s.mode, "tasks", st.Doc.Count())
	s.view.RenderAll()
	return nil
}

func (s *Session) load(ctx context.Context) (*State, error) {
	doc, err := s.store.Load(ctx, s.project)
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", s.project, err)
	}
	var g *grid.Grid
	if s.grids != nil {
		g, err = s.grids.LoadGrid(ctx, s.project)
		if err != nil && !errors.Is(err, domain.ErrProjectNotFound) {
			return nil, fmt.Errorf("load grid %s: %w", s.project, err)
		}
	}
	return NewState(doc, g), nil
}

// Close sends every pending patch, stops the outbox and saves the document
// unless the relay persists it.
func (s *Session) Close(ctx context.Context) error {
	s.outbox.Close()
	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	if !opened || s.relayPersists {
		return nil
	}
	return s.Save(ctx)
}

// ClientID returns the token that marks this session's patches.
func (s *Session) ClientID() string { return s.clientID }

// Project returns the project name.
func (s *Session) Project() string { return s.project }

// Mode returns the session mode.
func (s *Session) Mode() Mode { return s.mode }

// Document returns a deep copy of the current tree.
func (s *Session) Document() *tree.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return tree.NewDocument()
	}
	return s.state.Doc.Clone()
}

// Grid returns a deep copy of the current grid.
func (s *Session) Grid() *grid.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return grid.New()
	}
	return s.state.Grid.Clone()
}

// Labels returns the current label table. It is rebuilt, never mutated, so
// the returned value stays consistent.
func (s *Session) Labels() *projection.Labels {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return projection.BuildLabels(nil)
	}
	return s.state.Labels()
}

// Rows returns the current row table.
func (s *Session) Rows() *projection.Mapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return projection.Project(nil)
	}
	return s.state.Rows()
}

// Dirty reports whether local edits have not been saved yet.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edits != s.saved
}

// Flush sends every held edit now and waits for the queue to drain.
func (s *Session) Flush() {
	s.outbox.Flush()
}

// Save writes the current document, and grid when a grid store is set.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return ErrNotOpen
	}
	snap := snapshotOf(s.state)
	edits := s.edits
	s.mu.Unlock()

	if err := s.persist(ctx, snap); err != nil {
		s.notifier.Notify(NoticeError, "Saving failed: "+err.Error())
		return err
	}
	s.mu.Lock()
	if edits > s.saved {
		s.saved = edits
	}
	s.mu.Unlock()
	return nil
}

func (s *Session) persist(ctx context.Context, snap Snapshot) error {
	if err := s.store.Save(ctx, s.project, snap.Document); err != nil {
		return fmt.Errorf("save project %s: %w", s.project, err)
	}
	if s.grids != nil {
		if err := s.grids.SaveGrid(ctx, s.project, snap.Grid); err != nil {
			return fmt.Errorf("save grid %s: %w", s.project, err)
		}
	}
	return nil
}

// RunAutosave saves unsaved local edits every interval until ctx is done.
func (s *Session) RunAutosave(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.relayPersists {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Dirty() {
				continue
			}
			if err := s.Save(ctx); err != nil {
				s.logger.Warn("autosave failed", "error", err)
			}
		}
	}
}

// Undo restores the snapshot taken before the latest local commit. The
// restored document is saved but not broadcast: peers keep their state.
func (s *Session) Undo(ctx context.Context) error {
	return s.replay(ctx, (*UndoManager).Undo)
}

// Redo reapplies the latest undone commit, with the same local-only rules as Undo.
func (s *Session) Redo(ctx context.Context) error {
	return s.replay(ctx, (*UndoManager).Redo)
}

func (s *Session) replay(ctx context.Context, pop func(*UndoManager, Snapshot) (Snapshot, bool)) error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return ErrNotOpen
	}
	snap, ok := pop(s.undo, snapshotOf(s.state))
	if !ok {
		s.mu.Unlock()
		return ErrNothingToUndo
	}
	s.state = NewState(snap.Document, snap.Grid)
	s.edits++
	edits := s.edits
	saved := snapshotOf(s.state)
	s.mu.Unlock()

	s.view.RenderAll()
	if err := s.persist(ctx, saved); err != nil {
		s.notifier.Notify(NoticeError, "Saving failed: "+err.Error())
		return err
	}
	s.mu.Lock()
	if edits > s.saved {
		s.saved = edits
	}
	s.mu.Unlock()
	return nil
}

// UndoDepth returns the number of undo and redo steps available.
func (s *Session) UndoDepth() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.undo.Depth()
}

func (s *Session) meta() patch.Meta {
	return patch.Meta{Project: s.project, User: s.user, ClientID: s.clientID}
}

func (s *Session) transmit(ctx context.Context, p patch.Patch) error {
	if s.transport == nil {
		s.logger.Debug("offline, patch kept local", "op", p.Op(), "target", p.Target())
		return nil
	}
	return s.transport.Send(ctx, p)
}

func (s *Session) sendFailed(p patch.Patch, err error) {
	s.notifier.Notify(NoticeWarning, fmt.Sprintf("Could not send %s: %v", p.Op(), err))
}
