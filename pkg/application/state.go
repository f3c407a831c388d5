package application

import (
	"fmt"
	"slices"

	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/projection"
	"github.com/felixgeelhaar/plangrid/pkg/domain/rollup"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// FieldRef addresses one field of one task.
type FieldRef struct {
	TaskID int64
	Field  tree.Field
}

// Outcome describes what applying a patch did.
type Outcome struct {
	// Structural is set when rows shifted.
	Structural bool
	// Rebuilt is set when the grid was re-rendered in full.
	Rebuilt bool
	// Changed is false when the patch left every value as it was.
	Changed bool
	// Fields lists the task fields that were written, roll-ups included.
	Fields []FieldRef
	// Cells lists grid cells whose text or comment changed.
	Cells []grid.CellKey
	// Rollup holds derived values recomputed on ancestors.
	Rollup []rollup.Change
	// Unresolved holds predecessor labels that matched no task.
	Unresolved []string
}

// State is one replica of a project: the task tree, its grid form and the
// row and label tables derived from the tree. Both the session and the relay
// server mutate a State through Apply so they agree on what a patch means.
type State struct {
	Doc  *tree.Document
	Grid *grid.Grid

	rows   *projection.Mapping
	labels *projection.Labels
}

// NewState builds a replica from a loaded document. Comments and formatting
// of g are kept; its text is re-derived from the document.
func NewState(doc *tree.Document, g *grid.Grid) *State {
	if doc == nil {
		doc = tree.NewDocument()
	}
	doc.Normalize()
	st := &State{Doc: doc}
	st.reindex()
	st.Grid = grid.Render(st.rows, st.labels, g)
	return st
}

// Rows returns the current id ↔ row table.
func (st *State) Rows() *projection.Mapping { return st.rows }

// Labels returns the current id ↔ label table.
func (st *State) Labels() *projection.Labels { return st.labels }

// Clone returns a deep copy of the replica.
func (st *State) Clone() *State {
	c := &State{Doc: st.Doc.Clone(), Grid: st.Grid.Clone()}
	c.reindex()
	return c
}

// StampTarget names the version a patch writes. A cell edit counts as a
// write of the task field its column shows, so grid and tree edits of the
// same value share one version.
func (st *State) StampTarget(p patch.Patch) string {
	if v, ok := p.Payload.(patch.UpdateCell); ok {
		f, mapped := grid.FieldAt(v.Key.Col)
		t, found := st.rows.NodeAt(v.Key.Row)
		if mapped && found {
			return FieldTarget(t.ID, f)
		}
	}
	return p.Target()
}

func (st *State) reindex() {
	st.rows = projection.Project(st.Doc)
	st.labels = projection.BuildLabels(st.Doc)
}

func (st *State) rebuild() {
	st.reindex()
	st.Grid = grid.Render(st.rows, st.labels, st.Grid)
}

// Apply mutates the replica according to p.
func (st *State) Apply(p patch.Patch) (Outcome, error) {
	switch v := p.Payload.(type) {
	case patch.Update:
		return st.applyUpdate(v.TaskID, v.Field, v.Value)

	case patch.UpdateCell:
		return st.applyCell(v.Key, v.Cell)

	case patch.AddTask:
		if v.Task == nil {
			return Outcome{}, fmt.Errorf("%w: addTask without task", patch.ErrInvalidPatch)
		}
		t := v.Task.Clone()
		if err := st.Doc.AddTask(t); err != nil {
			return Outcome{}, err
		}
		return st.structural(nil)

	case patch.AddSubtask:
		if v.Task == nil {
			return Outcome{}, fmt.Errorf("%w: addSubtask without task", patch.ErrInvalidPatch)
		}
		if err := st.Doc.AddSubtask(v.ParentID, v.Task.Clone()); err != nil {
			return Outcome{}, err
		}
		return st.structural(&v.ParentID)

	case patch.DeleteTask:
		loc, err := st.Doc.Locate(v.TaskID)
		if err != nil {
			return Outcome{}, err
		}
		if _, err := st.Doc.Delete(v.TaskID); err != nil {
			return Outcome{}, err
		}
		if loc.Parent != nil {
			return st.structural(&loc.Parent.ID)
		}
		return st.structural(nil)

	case patch.DeleteSubtask:
		if _, err := st.Doc.DeleteChild(v.ParentID, v.TaskID); err != nil {
			return Outcome{}, err
		}
		return st.structural(&v.ParentID)

	case patch.ReorderSubtask:
		loc, err := st.Doc.Locate(v.TaskID)
		if err != nil {
			return Outcome{}, err
		}
		var parent int64
		if loc.Parent != nil {
			parent = loc.Parent.ID
		}
		if parent != v.ParentID {
			return Outcome{}, fmt.Errorf("task %d under %d: %w", v.TaskID, v.ParentID, tree.ErrWrongParent)
		}
		if err := st.Doc.Move(v.TaskID, v.Direction); err != nil {
			return Outcome{}, err
		}
		return st.structural(nil)

	case patch.UpdateComment:
		prev, _ := st.Grid.Cell(v.Key)
		st.Grid.SetComment(v.Key, v.Comment)
		out := Outcome{Changed: prev.Comment != v.Comment}
		if out.Changed {
			out.Cells = []grid.CellKey{v.Key}
		}
		return out, nil

	default:
		return Outcome{}, fmt.Errorf("%w: %q", patch.ErrUnknownOp, p.Op())
	}
}

// structural finishes a shape change: roll-ups for the parent whose child
// list changed, then a full re-render.
func (st *State) structural(parentID *int64) (Outcome, error) {
	out := Outcome{Structural: true, Rebuilt: true, Changed: true}
	if parentID != nil {
		changes, err := rollup.Recompute(st.Doc, *parentID)
		if err != nil {
			return out, err
		}
		out.Rollup = changes
		for _, c := range changes {
			out.Fields = append(out.Fields, FieldRef{TaskID: c.TaskID, Field: c.Field})
		}
	}
	st.rebuild()
	return out, nil
}

func (st *State) applyUpdate(id int64, f tree.Field, value any) (Outcome, error) {
	t, err := st.Doc.Find(id)
	if err != nil {
		return Outcome{}, err
	}
	wasPending := t.IsPending()
	changed, err := t.Set(f, value)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Changed: changed, Fields: []FieldRef{{TaskID: id, Field: f}}}

	if f.IsDerived() {
		changes, err := rollup.Recompute(st.Doc, id)
		if err != nil {
			return out, err
		}
		out.Rollup = changes
		for _, c := range changes {
			out.Fields = append(out.Fields, FieldRef{TaskID: c.TaskID, Field: c.Field})
		}
	}

	if f == tree.FieldName {
		// Renames change labels shown in predecessor cells, and naming or
		// blanking a task shifts rows.
		out.Structural = wasPending != t.IsPending()
		out.Rebuilt = true
		st.rebuild()
		return out, nil
	}
	for _, ref := range out.Fields {
		out.Cells = append(out.Cells, st.renderField(ref)...)
	}
	return out, nil
}

func (st *State) renderField(ref FieldRef) []grid.CellKey {
	row, ok := st.rows.RowOf(ref.TaskID)
	if !ok {
		return nil
	}
	t, _ := st.rows.NodeAt(row)
	return grid.RenderField(st.Grid, row, t, ref.Field, st.labels)
}

// applyCell decodes a cell edit into the task field behind it. Cells with no
// task or field behind them only keep the text and formatting.
func (st *State) applyCell(key grid.CellKey, cell grid.Cell) (Outcome, error) {
	f, mapped := grid.FieldAt(key.Col)
	t, hasRow := st.rows.NodeAt(key.Row)
	if !mapped || !hasRow {
		prev, _ := st.Grid.Cell(key)
		st.Grid.Merge(key, cell)
		return Outcome{Changed: prev.Text != cell.Text, Cells: []grid.CellKey{key}}, nil
	}
	value, unresolved, err := grid.DecodeText(f, cell.Text, st.labels)
	if err != nil {
		return Outcome{}, err
	}
	st.Grid.Merge(key, cell)
	out, err := st.applyUpdate(t.ID, f, value)
	out.Unresolved = unresolved
	if !out.Rebuilt && !slices.Contains(out.Cells, key) {
		out.Cells = append(out.Cells, key)
	}
	return out, err
}
