// Package projection flattens a task tree into grid rows and maintains the
// id ↔ row and id ↔ label tables derived from it.
package projection

import (
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// Row is one projected grid row.
type Row struct {
	Index int
	Task  *tree.Task
	Depth int
}

// Mapping is the id ↔ row table for one document shape. It is rebuilt in
// full after any structural change; row indices after an insertion or
// deletion point all shift, so it is never patched incrementally.
type Mapping struct {
	rows []Row
	byID map[int64]int
}

// Project walks the document in pre-order and assigns consecutive rows to
// named tasks. A task with a blank name is skipped together with its whole
// subtree.
func Project(doc *tree.Document) *Mapping {
	m := &Mapping{byID: make(map[int64]int)}
	if doc == nil {
		return m
	}
	doc.Walk(func(loc tree.Location) bool {
		if loc.Task.IsPending() {
			return false
		}
		idx := len(m.rows)
		m.rows = append(m.rows, Row{Index: idx, Task: loc.Task, Depth: loc.Depth})
		m.byID[loc.Task.ID] = idx
		return true
	})
	return m
}

// Rows returns the projected rows in order.
func (m *Mapping) Rows() []Row {
	return m.rows
}

// Len returns the number of projected rows.
func (m *Mapping) Len() int {
	return len(m.rows)
}

// RowOf returns the row index of a task.
func (m *Mapping) RowOf(id int64) (int, bool) {
	idx, ok := m.byID[id]
	return idx, ok
}

// NodeAt returns the task displayed at a row.
func (m *Mapping) NodeAt(row int) (*tree.Task, bool) {
	if row < 0 || row >= len(m.rows) {
		return nil, false
	}
	return m.rows[row].Task, true
}
