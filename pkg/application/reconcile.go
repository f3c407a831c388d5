package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// Receive applies a patch from another session. Echoes of this session's own
// patches are dropped. Grid sessions reload from the store when rows shift;
// tree sessions apply everything in place. Remote patches never touch the
// undo stacks and are not saved locally: the relay has already stored them.
func (s *Session) Receive(ctx context.Context, p patch.Patch) error {
	if p.ClientID == s.clientID {
		s.logger.Debug("dropping own echo", "op", p.Op(), "target", p.Target())
		return nil
	}
	if p.Project != "" && p.Project != s.project {
		return nil
	}
	if err := s.lockOpen(); err != nil {
		return err
	}

	if s.mode == ModeGrid && p.Op().IsStructural() {
		s.mu.Unlock()
		s.logger.Debug("structural patch, reloading", "op", p.Op())
		return s.Reload(ctx)
	}

	fx := effects{flash: true}
	conflict := s.clock.Observe(s.state.StampTarget(p), p.Stamp)
	out, err := s.state.Apply(p)
	if err != nil {
		s.mu.Unlock()
		if diverged(err) {
			s.logger.Warn("remote patch does not fit local state, reloading", "op", p.Op(), "error", err)
			return s.Reload(ctx)
		}
		s.logger.Warn("remote patch rejected", "op", p.Op(), "target", p.Target(), "error", err)
		s.notifier.Notify(NoticeWarning, fmt.Sprintf("Ignored a change from %s: %v", who(p), err))
		return err
	}
	s.targetsFor(out, &fx)
	if conflict {
		s.logger.Warn("concurrent edit", "target", p.Target(), "from", p.ClientID, "stamp", p.Stamp)
		fx.notify(NoticeInfo, fmt.Sprintf("%s edited the same value at the same time; their change was kept", who(p)))
	}
	s.mu.Unlock()
	s.run(fx)
	return nil
}

// Reload replaces the local state with the stored document. Edits made since
// the last save and not yet relayed are lost.
func (s *Session) Reload(ctx context.Context) error {
	st, err := s.load(ctx)
	if err != nil {
		s.notifier.Notify(NoticeError, "Reload failed: "+err.Error())
		return err
	}
	s.mu.Lock()
	s.state = st
	s.saved = s.edits
	s.mu.Unlock()
	s.clock.Reset()
	if s.mode == ModeGrid {
		s.dropRowBoundEdits()
	}
	s.view.RenderAll()
	return nil
}

// dropRowBoundEdits discards unsent edits that were addressed by grid cell,
// together with the roll-ups computed from them. After a reload the same
// cell key may name another task.
func (s *Session) dropRowBoundEdits() {
	dropped := s.outbox.Discard(func(p patch.Patch) bool {
		switch v := p.Payload.(type) {
		case patch.UpdateCell, patch.UpdateComment:
			return true
		case patch.Update:
			return v.Field.IsDerived()
		default:
			return false
		}
	})
	cells := 0
	for _, p := range dropped {
		if p.Op() != patch.OpUpdate {
			cells++
		}
	}
	if cells == 0 {
		return
	}
	s.logger.Warn("discarded unsent cell edits after reload", "count", cells)
	s.notifier.Notify(NoticeWarning, fmt.Sprintf("Rows changed before %d cell edit(s) were sent; please re-enter them", cells))
}

// diverged reports errors that mean the two replicas no longer have the
// same shape.
func diverged(err error) bool {
	return errors.Is(err, tree.ErrTaskNotFound) ||
		errors.Is(err, tree.ErrNoSibling) ||
		errors.Is(err, tree.ErrWrongParent) ||
		errors.Is(err, tree.ErrDuplicateID)
}

func who(p patch.Patch) string {
	if p.User != "" {
		return p.User
	}
	return "Another user"
}
