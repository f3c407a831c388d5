package grid

import (
	"github.com/felixgeelhaar/plangrid/pkg/domain/projection"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// Build renders a document as a grid. Comments and formatting of prev are kept
// for every key that still exists.
func Build(doc *tree.Document, prev *Grid) *Grid {
	return Render(projection.Project(doc), projection.BuildLabels(doc), prev)
}

// Render fills a grid from an existing projection.
func Render(m *projection.Mapping, labels *projection.Labels, prev *Grid) *Grid {
	g := New()
	for _, r := range m.Rows() {
		RenderRow(g, r.Index, r.Task, labels)
	}
	g.TotalRows = m.Len()
	if prev == nil {
		return g
	}
	for k, c := range prev.CellData {
		key, err := ParseCellKey(k)
		if err != nil || key.Row >= g.TotalRows || key.Col >= len(g.Columns) {
			continue
		}
		cur := g.CellData[k]
		cur.Comment = c.Comment
		cur.Format = c.clone().Format
		if cur.Text == "" && cur.Comment == "" && len(cur.Format) == 0 {
			continue
		}
		g.CellData[k] = cur
	}
	return g
}

// RenderRow writes every column of one task into row and returns the keys
// whose text changed.
func RenderRow(g *Grid, row int, t *tree.Task, labels *projection.Labels) []CellKey {
	var changed []CellKey
	for col, c := range g.Columns {
		var text string
		switch {
		case col == ColDuration:
			text = Duration(t)
		case c.Field != "":
			text = EncodeField(t, c.Field, labels)
		}
		key := CellKey{Row: row, Col: col}
		if g.SetText(key, text) {
			changed = append(changed, key)
		}
	}
	return changed
}

// RenderField rewrites the cell of a single field, plus the duration cell when
// a date moved. It returns the keys whose text changed.
func RenderField(g *Grid, row int, t *tree.Task, f tree.Field, labels *projection.Labels) []CellKey {
	col, ok := ColumnOf(f)
	if !ok {
		return nil
	}
	var changed []CellKey
	key := CellKey{Row: row, Col: col}
	if g.SetText(key, EncodeField(t, f, labels)) {
		changed = append(changed, key)
	}
	if f == tree.FieldStartDate || f == tree.FieldEndDate {
		dk := CellKey{Row: row, Col: ColDuration}
		if g.SetText(dk, Duration(t)) {
			changed = append(changed, dk)
		}
	}
	return changed
}
