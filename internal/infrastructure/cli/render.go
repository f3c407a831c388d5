package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/projection"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FAFAFA")).Background(lipgloss.Color("#7D56F4")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	parentStyle  = cellStyle.Bold(true)
	flaggedStyle = cellStyle.Foreground(lipgloss.Color("196"))
	doneStyle    = cellStyle.Foreground(lipgloss.Color("42"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// planRow is one displayed row: the task behind it and its cell texts with
// assignees resolved to contact names.
type planRow struct {
	ID    int64
	Label string
	Depth int
	Task  *tree.Task
	Cells []string
}

func planRows(doc *tree.Document, stored *grid.Grid, contacts domain.Directory) ([]planRow, *grid.Grid) {
	m := projection.Project(doc)
	labels := projection.BuildLabels(doc)
	g := grid.Render(m, labels, stored)
	out := make([]planRow, 0, m.Len())
	for _, r := range m.Rows() {
		label, _ := labels.Label(r.Task.ID)
		cells := g.RowTexts(r.Index)
		cells[grid.ColName] = strings.Repeat("  ", r.Depth) + cells[grid.ColName]
		cells[grid.ColAssignedTo] = strings.Join(storage.DisplayNames(contacts, r.Task.AssignedTo), ", ")
		out = append(out, planRow{ID: r.Task.ID, Label: label, Depth: r.Depth, Task: r.Task, Cells: cells})
	}
	return out, g
}

// renderPlan writes the grid of doc as a table, followed by cell comments
// and a count of unnamed tasks.
func renderPlan(w io.Writer, project string, doc *tree.Document, stored *grid.Grid, contacts domain.Directory) {
	rows, g := planRows(doc, stored, contacts)

	headers := []string{"ID", "#"}
	for _, c := range g.Columns {
		headers = append(headers, c.Title)
	}
	data := make([][]string, len(rows))
	for i, r := range rows {
		data[i] = append([]string{fmt.Sprint(r.ID), r.Label}, r.Cells...)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		Rows(data...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			task := rows[row].Task
			switch {
			case task.Flagged:
				return flaggedStyle
			case task.Status == tree.StatusCompleted:
				return doneStyle
			case task.HasChildren():
				return parentStyle
			}
			return cellStyle
		})

	_, _ = fmt.Fprintln(w, headerStyle.Render(project))
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, mutedStyle.Render("No tasks yet. Add one with 'plangrid add "+project+" <name>'."))
	} else {
		_, _ = fmt.Fprintln(w, t.Render())
	}

	var comments []string
	for k, c := range g.CellData {
		if c.Comment != "" {
			comments = append(comments, fmt.Sprintf("  %s: %s", k, c.Comment))
		}
	}
	if len(comments) > 0 {
		slices.Sort(comments)
		_, _ = fmt.Fprintln(w, "Comments:")
		for _, c := range comments {
			_, _ = fmt.Fprintln(w, c)
		}
	}
	if pending := doc.Count() - len(rows); pending > 0 {
		_, _ = fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("%d task(s) hidden: unnamed or under an unnamed task", pending)))
	}
}
