package application_test

import (
	"testing"

	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

func snap(counter int64) application.Snapshot {
	doc := tree.NewDocument()
	doc.TaskIDCounter = counter
	return application.Snapshot{Document: doc}
}

func TestUndoManager_UndoRedo(t *testing.T) {
	u := application.NewUndoManager(0)
	u.Push(snap(1))
	u.Push(snap(2))

	got, ok := u.Undo(snap(3))
	if !ok || got.Document.TaskIDCounter != 2 {
		t.Fatalf("expected snapshot 2, got %+v", got.Document)
	}
	got, ok = u.Redo(snap(2))
	if !ok || got.Document.TaskIDCounter != 3 {
		t.Fatalf("expected snapshot 3, got %+v", got.Document)
	}
	if undo, redo := u.Depth(); undo != 2 || redo != 0 {
		t.Errorf("depth = %d/%d, want 2/0", undo, redo)
	}
}

func TestUndoManager_PushClearsRedo(t *testing.T) {
	u := application.NewUndoManager(0)
	u.Push(snap(1))
	u.Undo(snap(2))
	u.Push(snap(3))
	if _, ok := u.Redo(snap(4)); ok {
		t.Error("redo must be empty after a new push")
	}
}

func TestUndoManager_EvictsOldest(t *testing.T) {
	u := application.NewUndoManager(3)
	for i := int64(1); i <= 5; i++ {
		u.Push(snap(i))
	}
	if undo, _ := u.Depth(); undo != 3 {
		t.Fatalf("expected depth 3, got %d", undo)
	}
	var last int64
	for {
		s, ok := u.Undo(snap(0))
		if !ok {
			break
		}
		last = s.Document.TaskIDCounter
	}
	if last != 3 {
		t.Errorf("oldest kept snapshot = %d, want 3", last)
	}
}

func TestUndoManager_DefaultCapacity(t *testing.T) {
	u := application.NewUndoManager(-1)
	for i := 0; i < application.DefaultUndoCapacity+10; i++ {
		u.Push(snap(int64(i)))
	}
	if undo, _ := u.Depth(); undo != application.DefaultUndoCapacity {
		t.Errorf("expected %d, got %d", application.DefaultUndoCapacity, undo)
	}
	u.Clear()
	if undo, redo := u.Depth(); undo+redo != 0 {
		t.Error("clear must empty both stacks")
	}
}
