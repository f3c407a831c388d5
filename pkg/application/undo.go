package application

import (
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// DefaultUndoCapacity is the depth of each undo stack.
const DefaultUndoCapacity = 50

// Snapshot is a deep copy of a session's whole replicated state.
type Snapshot struct {
	Document *tree.Document
	Grid     *grid.Grid
}

func snapshotOf(st *State) Snapshot {
	return Snapshot{Document: st.Doc.Clone(), Grid: st.Grid.Clone()}
}

// UndoManager holds bounded stacks of full snapshots. It never sees remote
// patches or replays; only local commits push onto it.
type UndoManager struct {
	capacity int
	undo     []Snapshot
	redo     []Snapshot
}

// NewUndoManager creates stacks of the given capacity; zero or less means
// DefaultUndoCapacity.
func NewUndoManager(capacity int) *UndoManager {
	if capacity <= 0 {
		capacity = DefaultUndoCapacity
	}
	return &UndoManager{capacity: capacity}
}

// Push records the state before a local mutation, evicting the oldest entry
// when full, and clears the redo stack.
func (u *UndoManager) Push(s Snapshot) {
	u.undo = pushBounded(u.undo, s, u.capacity)
	u.redo = nil
}

// Undo pops the latest snapshot and pushes current onto the redo stack.
func (u *UndoManager) Undo(current Snapshot) (Snapshot, bool) {
	if len(u.undo) == 0 {
		return Snapshot{}, false
	}
	s := u.undo[len(u.undo)-1]
	u.undo = u.undo[:len(u.undo)-1]
	u.redo = pushBounded(u.redo, current, u.capacity)
	return s, true
}

// Redo pops the latest redo snapshot and pushes current onto the undo stack.
func (u *UndoManager) Redo(current Snapshot) (Snapshot, bool) {
	if len(u.redo) == 0 {
		return Snapshot{}, false
	}
	s := u.redo[len(u.redo)-1]
	u.redo = u.redo[:len(u.redo)-1]
	u.undo = pushBounded(u.undo, current, u.capacity)
	return s, true
}

// Depth returns the sizes of the undo and redo stacks.
func (u *UndoManager) Depth() (undo, redo int) {
	return len(u.undo), len(u.redo)
}

// Clear drops both stacks.
func (u *UndoManager) Clear() {
	u.undo, u.redo = nil, nil
}

func pushBounded(stack []Snapshot, s Snapshot, capacity int) []Snapshot {
	stack = append(stack, s)
	if len(stack) > capacity {
		stack = append(stack[:0:0], stack[len(stack)-capacity:]...)
	}
	return stack
}
