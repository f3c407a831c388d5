// Package grid is the flat row/column form of a project document: a column
// list, a sparse map of cells keyed "<row>-<col>", and the row count.
package grid

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

var (
	// ErrInvalidCellKey indicates a cell key not of the form "<row>-<col>".
	ErrInvalidCellKey = errors.New("invalid cell key")

	// ErrUnmappedColumn indicates a column with no task field behind it.
	ErrUnmappedColumn = errors.New("column is not mapped to a task field")
)

// Column indices of the fixed layout.
const (
	ColName            = 0
	ColStartDate       = 1
	ColEndDate         = 2
	ColDuration        = 3
	ColPredecessor     = 4
	ColPercentComplete = 5
	ColStatus          = 6
	ColAssignedTo      = 7
	ColCost            = 8
)

// Column describes one grid column. Field is empty for display-only columns.
type Column struct {
	Title string     `json:"title"`
	Field tree.Field `json:"field,omitempty"`
	Width int        `json:"width,omitempty"`
}

// DefaultColumns returns the fixed column layout.
func DefaultColumns() []Column {
	return []Column{
		ColName:            {Title: "Task Name", Field: tree.FieldName, Width: 32},
		ColStartDate:       {Title: "Start Date", Field: tree.FieldStartDate, Width: 12},
		ColEndDate:         {Title: "End Date", Field: tree.FieldEndDate, Width: 12},
		ColDuration:        {Title: "Duration", Width: 10},
		ColPredecessor:     {Title: "Predecessors", Field: tree.FieldPredecessor, Width: 24},
		ColPercentComplete: {Title: "% Complete", Field: tree.FieldPercentComplete, Width: 10},
		ColStatus:          {Title: "Status", Field: tree.FieldStatus, Width: 12},
		ColAssignedTo:      {Title: "Assigned To", Field: tree.FieldAssignedTo, Width: 16},
		ColCost:            {Title: "Cost", Field: tree.FieldCost, Width: 10},
	}
}

var columnOfField = func() map[tree.Field]int {
	m := make(map[tree.Field]int)
	for i, c := range DefaultColumns() {
		if c.Field != "" {
			m[c.Field] = i
		}
	}
	return m
}()

// ColumnOf returns the column a task field is shown in. Description, flagged
// and attachments have no column.
func ColumnOf(f tree.Field) (int, bool) {
	col, ok := columnOfField[f]
	return col, ok
}

// FieldAt returns the task field behind a column.
func FieldAt(col int) (tree.Field, bool) {
	cols := DefaultColumns()
	if col < 0 || col >= len(cols) || cols[col].Field == "" {
		return "", false
	}
	return cols[col].Field, true
}

// CellKey addresses one cell.
type CellKey struct {
	Row int
	Col int
}

func (k CellKey) String() string {
	return strconv.Itoa(k.Row) + "-" + strconv.Itoa(k.Col)
}

// ParseCellKey parses the literal "<row>-<col>" form.
func ParseCellKey(s string) (CellKey, error) {
	r, c, ok := strings.Cut(s, "-")
	if !ok {
		return CellKey{}, fmt.Errorf("%w: %q", ErrInvalidCellKey, s)
	}
	row, err := strconv.Atoi(r)
	if err != nil || row < 0 {
		return CellKey{}, fmt.Errorf("%w: %q", ErrInvalidCellKey, s)
	}
	col, err := strconv.Atoi(c)
	if err != nil || col < 0 {
		return CellKey{}, fmt.Errorf("%w: %q", ErrInvalidCellKey, s)
	}
	return CellKey{Row: row, Col: col}, nil
}

// MarshalText lets CellKey be used as a JSON map key and string field.
func (k CellKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *CellKey) UnmarshalText(b []byte) error {
	parsed, err := ParseCellKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Cell is the content of one grid cell. Formatting attributes are opaque to
// this package and carried through untouched.
type Cell struct {
	Text    string
	Comment string
	Format  map[string]json.RawMessage
}

func (c Cell) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Format)+2)
	for k, v := range c.Format {
		m[k] = v
	}
	m["text"] = c.Text
	if c.Comment != "" {
		m["comment"] = c.Comment
	}
	return json.Marshal(m)
}

func (c *Cell) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Cell{}
	if v, ok := raw["text"]; ok {
		if err := json.Unmarshal(v, &c.Text); err != nil {
			return fmt.Errorf("cell text: %w", err)
		}
		delete(raw, "text")
	}
	if v, ok := raw["comment"]; ok {
		if err := json.Unmarshal(v, &c.Comment); err != nil {
			return fmt.Errorf("cell comment: %w", err)
		}
		delete(raw, "comment")
	}
	if len(raw) > 0 {
		c.Format = raw
	}
	return nil
}

func (c Cell) clone() Cell {
	c.Format = maps.Clone(c.Format)
	return c
}

// Grid is the flat view of a document.
type Grid struct {
	Columns   []Column        `json:"columns"`
	CellData  map[string]Cell `json:"cellData"`
	TotalRows int             `json:"totalRows"`
}

// New returns an empty grid with the default columns.
func New() *Grid {
	return &Grid{Columns: DefaultColumns(), CellData: make(map[string]Cell)}
}

// Cell returns the cell at key.
func (g *Grid) Cell(key CellKey) (Cell, bool) {
	c, ok := g.CellData[key.String()]
	return c, ok
}

// Text returns the text of the cell at key, or "" if the cell is empty.
func (g *Grid) Text(key CellKey) string {
	return g.CellData[key.String()].Text
}

// SetText replaces the text of a cell and keeps its comment and formatting.
// It reports whether the text changed.
func (g *Grid) SetText(key CellKey, text string) bool {
	k := key.String()
	c, exists := g.CellData[k]
	if (exists && c.Text == text) || (!exists && text == "") {
		return false
	}
	c.Text = text
	g.CellData[k] = c
	g.grow(key.Row)
	return true
}

// Merge applies a cell received from a peer: text and comment are replaced,
// formatting attributes present on the incoming cell override local ones.
func (g *Grid) Merge(key CellKey, in Cell) {
	k := key.String()
	c := g.CellData[k]
	c.Text = in.Text
	if in.Comment != "" {
		c.Comment = in.Comment
	}
	if len(in.Format) > 0 {
		if c.Format == nil {
			c.Format = make(map[string]json.RawMessage, len(in.Format))
		}
		maps.Copy(c.Format, in.Format)
	}
	g.CellData[k] = c
	g.grow(key.Row)
}

// SetComment replaces the comment of a cell.
func (g *Grid) SetComment(key CellKey, comment string) {
	k := key.String()
	c := g.CellData[k]
	c.Comment = comment
	g.CellData[k] = c
}

func (g *Grid) grow(row int) {
	if row+1 > g.TotalRows {
		g.TotalRows = row + 1
	}
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	c := &Grid{
		Columns:   append([]Column{}, g.Columns...),
		CellData:  make(map[string]Cell, len(g.CellData)),
		TotalRows: g.TotalRows,
	}
	for k, v := range g.CellData {
		c.CellData[k] = v.clone()
	}
	return c
}

// RowTexts returns the texts of one row in column order.
func (g *Grid) RowTexts(row int) []string {
	out := make([]string, len(g.Columns))
	for col := range g.Columns {
		out[col] = g.Text(CellKey{Row: row, Col: col})
	}
	return out
}
