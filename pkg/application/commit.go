package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/projection"
	"github.com/felixgeelhaar/plangrid/pkg/domain/rollup"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

type notice struct {
	level   NoticeLevel
	message string
}

// effects collects view and notifier calls made while the session lock is
// held; they run after it is released.
type effects struct {
	all     bool
	targets []string
	reverts []string
	flash   bool
	notices []notice
}

func (fx *effects) notify(level NoticeLevel, msg string) {
	fx.notices = append(fx.notices, notice{level: level, message: msg})
}

func (s *Session) run(fx effects) {
	if fx.all {
		s.view.RenderAll()
	} else {
		for _, t := range fx.targets {
			if s.view.HasFocus(t) {
				continue
			}
			s.view.Render(t, fx.flash)
		}
	}
	for _, t := range fx.reverts {
		s.view.Render(t, false)
	}
	for _, n := range fx.notices {
		s.notifier.Notify(n.level, n.message)
	}
}

func (s *Session) targetsFor(out Outcome, fx *effects) {
	if out.Structural || (s.mode == ModeGrid && out.Rebuilt) {
		fx.all = true
		return
	}
	if s.mode == ModeGrid {
		for _, k := range out.Cells {
			fx.targets = append(fx.targets, CellTarget(k))
		}
		return
	}
	for _, f := range out.Fields {
		fx.targets = append(fx.targets, FieldTarget(f.TaskID, f.Field))
	}
}

// commitLocked applies local patches as one undoable step, then queues them
// and the derived-field updates they caused. Nothing is recorded when the
// patches change nothing; on error the state is restored.
func (s *Session) commitLocked(fx *effects, coalesce bool, patches ...patch.Patch) (Outcome, error) {
	before := snapshotOf(s.state)
	var (
		last    Outcome
		changed bool
		derived []rollup.Change
		applied []Outcome
	)
	stamps := make([]string, 0, len(patches))
	for _, p := range patches {
		stamps = append(stamps, s.state.StampTarget(p))
		out, err := s.state.Apply(p)
		if err != nil {
			s.state = NewState(before.Document, before.Grid)
			return Outcome{}, err
		}
		changed = changed || out.Changed || len(out.Rollup) > 0
		derived = append(derived, out.Rollup...)
		applied = append(applied, out)
		last = out
	}
	if !changed {
		for _, out := range applied {
			s.targetsFor(out, fx)
		}
		return last, nil
	}
	s.undo.Push(before)
	s.edits++

	for i, p := range patches {
		p.Stamp = s.clock.Stamp(stamps[i])
		s.outbox.Submit(p, coalesce)
	}
	for _, c := range compact(derived) {
		up := patch.New(s.meta(), patch.Update{TaskID: c.TaskID, Field: c.Field, Value: c.Value})
		up.Stamp = s.clock.Stamp(up.Target())
		s.outbox.Submit(up, coalesce)
	}
	for _, out := range applied {
		s.targetsFor(out, fx)
	}
	return last, nil
}

// compact keeps the final value of every derived field, in first-seen order.
func compact(changes []rollup.Change) []rollup.Change {
	idx := make(map[FieldRef]int, len(changes))
	var out []rollup.Change
	for _, c := range changes {
		ref := FieldRef{TaskID: c.TaskID, Field: c.Field}
		if i, ok := idx[ref]; ok {
			out[i] = c
			continue
		}
		idx[ref] = len(out)
		out = append(out, c)
	}
	return out
}

// reject reverts the edited target in the view and tells the user why.
func (s *Session) reject(fx *effects, target string, err error) error {
	msg := err.Error()
	var ve *ValidationError
	if errors.As(err, &ve) {
		msg = ve.Message
	}
	fx.reverts = append(fx.reverts, target)
	fx.notify(NoticeWarning, msg)
	return err
}

func (s *Session) lockOpen() error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return ErrNotOpen
	}
	return nil
}

// validateFieldLocked checks a local field edit and returns the value in
// normalized form.
func (s *Session) validateFieldLocked(t *tree.Task, f tree.Field, value any, target string) (any, error) {
	if f.IsDerived() && t.HasChildren() {
		return nil, invalid(target, fmt.Sprintf("%s is calculated from subtasks", f), ErrDerivedField)
	}
	probe := t.Clone()
	if _, err := probe.Set(f, value); err != nil {
		var fe *tree.FieldError
		switch {
		case errors.As(err, &fe):
			return nil, invalid(target, fe.Reason, err)
		case errors.Is(err, tree.ErrSelfReference):
			return nil, invalid(target, "A task cannot be its own predecessor", err)
		default:
			return nil, invalid(target, err.Error(), err)
		}
	}
	norm, err := probe.Value(f)
	if err != nil {
		return nil, err
	}

	switch f {
	case tree.FieldPredecessor:
		for _, id := range probe.Predecessor {
			p, err := s.state.Doc.Find(id)
			if err != nil || p.IsPending() {
				return nil, invalid(target, fmt.Sprintf("Task %d cannot be a predecessor", id), ErrInvalidPredecessor)
			}
		}
	case tree.FieldName:
		err := s.checkLabelsLocked(func(doc *tree.Document) error {
			c, err := doc.Find(t.ID)
			if err != nil {
				return err
			}
			c.Name = probe.Name
			return nil
		})
		if err != nil {
			return nil, invalid(target, "Another task already has this name here", err)
		}
	}
	return norm, nil
}

// checkLabelsLocked runs mutate on a copy of the document and fails when the
// result has a path label shared by more tasks than before.
func (s *Session) checkLabelsLocked(mutate func(doc *tree.Document) error) error {
	before := s.state.Labels().Duplicates()
	trial := s.state.Doc.Clone()
	if err := mutate(trial); err != nil {
		return err
	}
	for label, ids := range projection.BuildLabels(trial).Duplicates() {
		if len(ids) > len(before[label]) {
			return fmt.Errorf("%w: %q", ErrDuplicateLabel, label)
		}
	}
	return nil
}

// statusFollowUps returns the percent update the leaf status rule implies.
func (s *Session) statusFollowUps(t *tree.Task, f tree.Field, norm any) []patch.Patch {
	if f != tree.FieldStatus {
		return nil
	}
	st, ok := norm.(tree.Status)
	if !ok {
		return nil
	}
	var out []patch.Patch
	for _, c := range rollup.ApplyStatus(t.Clone(), st) {
		if c.Field == tree.FieldPercentComplete {
			out = append(out, patch.New(s.meta(), patch.Update{TaskID: t.ID, Field: c.Field, Value: c.Value}))
		}
	}
	return out
}

// UpdateField commits a local edit of one task field.
func (s *Session) UpdateField(taskID int64, f tree.Field, value any) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	var fx effects
	err := s.updateFieldLocked(&fx, taskID, f, value)
	s.mu.Unlock()
	s.run(fx)
	return err
}

func (s *Session) updateFieldLocked(fx *effects, taskID int64, f tree.Field, value any) error {
	t, err := s.state.Doc.Find(taskID)
	if err != nil {
		return err
	}
	target := FieldTarget(taskID, f)
	norm, err := s.validateFieldLocked(t, f, value, target)
	if err != nil {
		return s.reject(fx, target, err)
	}
	patches := []patch.Patch{patch.New(s.meta(), patch.Update{TaskID: taskID, Field: f, Value: norm})}
	patches = append(patches, s.statusFollowUps(t, f, norm)...)
	_, err = s.commitLocked(fx, f.IsHighChurn(), patches...)
	return err
}

// EditCell commits text typed into a grid cell. Text that cannot be decoded
// is rejected and the cell reverts to the task's current value.
func (s *Session) EditCell(key grid.CellKey, text string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	var fx effects
	err := s.editCellLocked(&fx, key, text)
	s.mu.Unlock()
	s.run(fx)
	return err
}

func (s *Session) editCellLocked(fx *effects, key grid.CellKey, text string) error {
	target := CellTarget(key)
	f, ok := grid.FieldAt(key.Col)
	if !ok {
		return s.reject(fx, target, invalid(target, "This column cannot be edited", ErrReadOnlyCell))
	}
	t, ok := s.state.Rows().NodeAt(key.Row)
	if !ok {
		return s.reject(fx, target, invalid(target, "There is no task in this row", ErrReadOnlyCell))
	}
	value, unresolved, err := grid.DecodeText(f, text, s.state.Labels())
	if err != nil {
		var de *grid.DecodeError
		if errors.As(err, &de) {
			err = invalid(target, de.Message, err)
		}
		return s.reject(fx, target, err)
	}
	norm, err := s.validateFieldLocked(t, f, value, target)
	if err != nil {
		return s.reject(fx, target, err)
	}

	cell, _ := s.state.Grid.Cell(key)
	cell.Text = text
	patches := []patch.Patch{patch.New(s.meta(), patch.UpdateCell{Key: key, Cell: cell})}
	patches = append(patches, s.statusFollowUps(t, f, norm)...)
	if _, err := s.commitLocked(fx, f.IsHighChurn(), patches...); err != nil {
		return err
	}
	if len(unresolved) > 0 {
		fx.notify(NoticeWarning, "Unknown predecessor dropped: "+strings.Join(unresolved, ", "))
	}
	return nil
}

// UpdateComment sets the comment of a grid cell.
func (s *Session) UpdateComment(key grid.CellKey, comment string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	var fx effects
	_, err := s.commitLocked(&fx, false, patch.New(s.meta(), patch.UpdateComment{Key: key, Comment: comment}))
	s.mu.Unlock()
	s.run(fx)
	return err
}

// AddTask appends a top-level task and returns its id. A blank name creates
// a pending task that stays out of the grid until it is named.
func (s *Session) AddTask(name string) (int64, error) {
	return s.addTask(0, name)
}

// AddSubtask appends a child to parentID and returns its id.
func (s *Session) AddSubtask(parentID int64, name string) (int64, error) {
	if parentID == 0 {
		return 0, fmt.Errorf("task 0: %w", tree.ErrTaskNotFound)
	}
	return s.addTask(parentID, name)
}

func (s *Session) addTask(parentID int64, name string) (int64, error) {
	if err := s.lockOpen(); err != nil {
		return 0, err
	}
	var fx effects
	id, err := s.addTaskLocked(&fx, parentID, name)
	s.mu.Unlock()
	s.run(fx)
	return id, err
}

func (s *Session) addTaskLocked(fx *effects, parentID int64, name string) (int64, error) {
	doc := s.state.Doc
	if parentID != 0 {
		loc, err := doc.Locate(parentID)
		if err != nil {
			return 0, err
		}
		if loc.Depth+1 >= tree.MaxLevels {
			return 0, invalid(FieldTarget(parentID, tree.FieldName),
				fmt.Sprintf("Tasks can be nested at most %d levels deep", tree.MaxLevels), tree.ErrMaxDepth)
		}
	}
	// Ids are reserved on the live document so an aborted add never reuses one.
	t := tree.NewTask(doc.NextID(), name)
	err := s.checkLabelsLocked(func(trial *tree.Document) error {
		if parentID == 0 {
			return trial.AddTask(t.Clone())
		}
		return trial.AddSubtask(parentID, t.Clone())
	})
	if err != nil {
		target := FieldTarget(t.ID, tree.FieldName)
		return 0, s.reject(fx, target, invalid(target, "Another task already has this name here", err))
	}

	var p patch.Patch
	if parentID == 0 {
		p = patch.New(s.meta(), patch.AddTask{Task: t})
	} else {
		p = patch.New(s.meta(), patch.AddSubtask{ParentID: parentID, Task: t})
	}
	if _, err := s.commitLocked(fx, false, p); err != nil {
		return 0, err
	}
	return t.ID, nil
}

// DeleteTask removes a task and its subtree. References to any removed task
// disappear from every predecessor list.
func (s *Session) DeleteTask(id int64) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	var fx effects
	err := s.deleteLocked(&fx, id)
	s.mu.Unlock()
	s.run(fx)
	return err
}

func (s *Session) deleteLocked(fx *effects, id int64) error {
	loc, err := s.state.Doc.Locate(id)
	if err != nil {
		return err
	}
	var p patch.Patch
	if loc.Parent == nil {
		p = patch.New(s.meta(), patch.DeleteTask{TaskID: id})
	} else {
		p = patch.New(s.meta(), patch.DeleteSubtask{ParentID: loc.Parent.ID, TaskID: id})
	}
	_, err = s.commitLocked(fx, false, p)
	return err
}

// Move swaps a task with its sibling above or below.
func (s *Session) Move(id int64, dir tree.Direction) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	var fx effects
	err := s.moveLocked(&fx, id, dir)
	s.mu.Unlock()
	s.run(fx)
	return err
}

func (s *Session) moveLocked(fx *effects, id int64, dir tree.Direction) error {
	loc, err := s.state.Doc.Locate(id)
	if err != nil {
		return err
	}
	var parent int64
	if loc.Parent != nil {
		parent = loc.Parent.ID
	}
	_, err = s.commitLocked(fx, false, patch.New(s.meta(), patch.ReorderSubtask{ParentID: parent, TaskID: id, Direction: dir}))
	return err
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// AttachFile uploads a file and records it on the task. The upload runs
// outside the session lock so other edits are not held up.
func (s *Session) AttachFile(ctx context.Context, taskID int64, name string, r io.Reader) (tree.Attachment, error) {
	if s.files == nil {
		return tree.Attachment{}, ErrNoFileStore
	}
	cr := &countingReader{r: r}
	stored, err := s.files.Upload(ctx, name, cr)
	if err != nil {
		s.notifier.Notify(NoticeError, "Upload failed: "+err.Error())
		return tree.Attachment{}, fmt.Errorf("upload %s: %w", name, err)
	}
	att := tree.Attachment{
		Name:        filepath.Base(name),
		StoredName:  stored,
		Size:        cr.n,
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
		UploadedAt:  time.Now().UTC(),
	}

	if err := s.lockOpen(); err != nil {
		return att, err
	}
	var fx effects
	err = func() error {
		t, err := s.state.Doc.Find(taskID)
		if err != nil {
			return err
		}
		atts := append(slices.Clone(t.Attachments), att)
		return s.updateFieldLocked(&fx, taskID, tree.FieldAttachments, atts)
	}()
	s.mu.Unlock()
	s.run(fx)
	if err != nil {
		if derr := s.files.Delete(ctx, stored); derr != nil {
			s.logger.Warn("orphaned upload", "stored", stored, "error", derr)
		}
		return att, err
	}
	return att, nil
}

// RemoveAttachment drops an attachment from the task, then deletes the stored file.
func (s *Session) RemoveAttachment(ctx context.Context, taskID int64, storedName string) error {
	if err := s.lockOpen(); err != nil {
		return err
	}
	var fx effects
	err := func() error {
		t, err := s.state.Doc.Find(taskID)
		if err != nil {
			return err
		}
		atts := slices.DeleteFunc(slices.Clone(t.Attachments), func(a tree.Attachment) bool {
			return a.StoredName == storedName
		})
		if len(atts) == len(t.Attachments) {
			return fmt.Errorf("attachment %s on task %d: %w", storedName, taskID, ErrAttachmentNotFound)
		}
		return s.updateFieldLocked(&fx, taskID, tree.FieldAttachments, atts)
	}()
	s.mu.Unlock()
	s.run(fx)
	if err != nil {
		return err
	}
	if s.files != nil {
		if err := s.files.Delete(ctx, storedName); err != nil {
			s.notifier.Notify(NoticeWarning, "Could not delete file: "+err.Error())
		}
	}
	return nil
}
