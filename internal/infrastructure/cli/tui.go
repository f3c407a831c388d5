package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
	"github.com/spf13/cobra"
)

var editCmd = &cobra.Command{
	Use:     "edit <project>",
	Aliases: []string{"tui"},
	Short:   "Edit a project in an interactive grid",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("PLANGRID_SKIP_TUI_RUN") == "true" {
			return nil
		}
		ws, err := loadWorkspace(cmd, wiring.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		view := &programView{}
		s, closeFn, err := ws.OpenSession(ctx, wiring.SessionOptions{
			Project:  args[0],
			Mode:     application.ModeGrid,
			View:     view,
			Notifier: view,
		})
		if err != nil {
			return MapError(err)
		}
		go s.RunAutosave(ctx, ws.Config.Client.Autosave)

		m := newGridModel(ctx, s, view, contactsOf(ws))
		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
		view.attach(p)
		_, runErr := p.Run()
		view.attach(nil)

		if err := closeFn(context.WithoutCancel(ctx)); err != nil {
			return MapError(fmt.Errorf("failed to save %s: %w", args[0], err))
		}
		if runErr != nil {
			return fmt.Errorf("editor failed: %w", runErr)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(editCmd)
}

// renderMsg asks the grid to redraw. Target is a cell key, or empty for a
// full redraw.
type renderMsg struct {
	target string
	flash  bool
}

type noticeMsg struct {
	level application.NoticeLevel
	text  string
}

type flashDoneMsg struct{ row int }

// programView forwards session callbacks to the running program. Sends
// happen on their own goroutine: the session may call back while Update is
// running, and Program.Send blocks until the event loop reads.
type programView struct {
	mu      sync.Mutex
	program *tea.Program
	focus   string
}

func (v *programView) attach(p *tea.Program) {
	v.mu.Lock()
	v.program = p
	v.mu.Unlock()
}

func (v *programView) send(msg tea.Msg) {
	v.mu.Lock()
	p := v.program
	v.mu.Unlock()
	if p != nil {
		go p.Send(msg)
	}
}

func (v *programView) setFocus(target string) {
	v.mu.Lock()
	v.focus = target
	v.mu.Unlock()
}

func (v *programView) HasFocus(target string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.focus != "" && v.focus == target
}

func (v *programView) Render(target string, flash bool) {
	v.send(renderMsg{target: target, flash: flash})
}

func (v *programView) RenderAll() {
	v.send(renderMsg{})
}

func (v *programView) Notify(level application.NoticeLevel, message string) {
	v.send(noticeMsg{level: level, text: message})
}

type inputMode int

const (
	browsing inputMode = iota
	editingCell
	editingComment
	addingTask
	addingSubtask
)

func (m inputMode) prompt() string {
	switch m {
	case editingCell:
		return "Value: "
	case editingComment:
		return "Comment: "
	case addingTask:
		return "New task: "
	case addingSubtask:
		return "New subtask: "
	}
	return ""
}

var (
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	frameStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
	gridHelpText = "←/→ column  enter edit  c comment  a add  A subtask  d delete  K/J move  u undo  U redo  s save  q quit"
)

type gridModel struct {
	ctx      context.Context
	session  *application.Session
	view     *programView
	contacts domain.Directory

	table  table.Model
	input  textinput.Model
	mode   inputMode
	col    int
	editAt grid.CellKey
	parent int64
	flash  map[int]bool
	status string
	level  application.NoticeLevel
}

func newGridModel(ctx context.Context, s *application.Session, view *programView, contacts domain.Directory) gridModel {
	cols := []table.Column{{Title: "", Width: 1}, {Title: "#", Width: 6}}
	for _, c := range grid.DefaultColumns() {
		cols = append(cols, table.Column{Title: c.Title, Width: c.Width})
	}
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240"))
	st.Selected = st.Selected.
		Foreground(lipgloss.Color("229"))
	t.SetStyles(st)

	in := textinput.New()
	in.CharLimit = 512

	m := gridModel{
		ctx:      ctx,
		session:  s,
		view:     view,
		contacts: contacts,
		table:    t,
		input:    in,
		flash:    make(map[int]bool),
	}
	m.refresh()
	return m
}

func (m gridModel) Init() tea.Cmd { return nil }

// refresh rebuilds the table rows from the session. The selected cell is
// bracketed since the table only highlights rows.
func (m *gridModel) refresh() {
	g := m.session.Grid()
	mapping := m.session.Rows()
	labels := m.session.Labels()
	cursor := m.table.Cursor()

	rows := make([]table.Row, 0, mapping.Len())
	for _, r := range mapping.Rows() {
		cells := g.RowTexts(r.Index)
		cells[grid.ColName] = strings.Repeat("  ", r.Depth) + cells[grid.ColName]
		if m.contacts != nil && len(r.Task.AssignedTo) > 0 {
			cells[grid.ColAssignedTo] = strings.Join(storage.DisplayNames(m.contacts, r.Task.AssignedTo), ", ")
		}
		if r.Index == cursor && m.col < len(cells) {
			cells[m.col] = "[" + cells[m.col] + "]"
		}
		marker := ""
		if m.flash[r.Index] {
			marker = "●"
		}
		label, _ := labels.Label(r.Task.ID)
		rows = append(rows, append(table.Row{marker, label}, cells...))
	}
	m.table.SetRows(rows)
	if cursor >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}
}

func (m *gridModel) selectedTask() (*tree.Task, bool) {
	return m.session.Rows().NodeAt(m.table.Cursor())
}

func (m *gridModel) notice(level application.NoticeLevel, text string) {
	m.level = level
	m.status = text
}

// run calls into the session off the event loop and reports the outcome.
func (m gridModel) run(done string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			return noticeMsg{level: application.NoticeError, text: err.Error()}
		}
		return noticeMsg{level: application.NoticeInfo, text: done}
	}
}

func (m *gridModel) startInput(mode inputMode, value string) tea.Cmd {
	m.mode = mode
	m.input.Prompt = mode.prompt()
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.table.Blur()
	if mode == editingCell {
		m.view.setFocus(application.CellTarget(m.editAt))
	}
	return m.input.Focus()
}

func (m *gridModel) stopInput() {
	m.mode = browsing
	m.input.Blur()
	m.input.SetValue("")
	m.table.Focus()
	m.view.setFocus("")
}

func (m gridModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case renderMsg:
		var cmd tea.Cmd
		if msg.flash {
			if key, err := grid.ParseCellKey(msg.target); err == nil {
				m.flash[key.Row] = true
				row := key.Row
				cmd = tea.Tick(time.Second, func(time.Time) tea.Msg { return flashDoneMsg{row: row} })
			}
		}
		m.refresh()
		return m, cmd

	case flashDoneMsg:
		delete(m.flash, msg.row)
		m.refresh()
		return m, nil

	case noticeMsg:
		m.notice(msg.level, msg.text)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if m.mode != browsing {
			return m.updateInput(msg)
		}
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	before := m.table.Cursor()
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	if m.table.Cursor() != before {
		m.refresh()
	}
	return m, cmd
}

func (m *gridModel) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	s := m.session
	switch msg.String() {
	case "q", "ctrl+c":
		return tea.Quit, true
	case "left", "h":
		if m.col > 0 {
			m.col--
			m.refresh()
		}
		return nil, true
	case "right", "l":
		if m.col < len(grid.DefaultColumns())-1 {
			m.col++
			m.refresh()
		}
		return nil, true
	case "enter", "e":
		if s.Rows().Len() == 0 {
			return nil, true
		}
		m.editAt = grid.CellKey{Row: m.table.Cursor(), Col: m.col}
		return m.startInput(editingCell, s.Grid().Text(m.editAt)), true
	case "c":
		if s.Rows().Len() == 0 {
			return nil, true
		}
		m.editAt = grid.CellKey{Row: m.table.Cursor(), Col: m.col}
		cell, _ := s.Grid().Cell(m.editAt)
		return m.startInput(editingComment, cell.Comment), true
	case "a":
		return m.startInput(addingTask, ""), true
	case "A":
		t, ok := m.selectedTask()
		if !ok {
			return nil, true
		}
		m.parent = t.ID
		return m.startInput(addingSubtask, ""), true
	case "d":
		t, ok := m.selectedTask()
		if !ok {
			return nil, true
		}
		id := t.ID
		return m.run(fmt.Sprintf("Deleted %q", t.Name), func() error { return s.DeleteTask(id) }), true
	case "K", "J":
		t, ok := m.selectedTask()
		if !ok {
			return nil, true
		}
		dir := tree.DirectionUp
		if msg.String() == "J" {
			dir = tree.DirectionDown
		}
		id := t.ID
		return m.run("Moved "+string(dir), func() error { return s.Move(id, dir) }), true
	case "u":
		ctx := m.ctx
		return m.run("Undone", func() error { s.Flush(); return s.Undo(ctx) }), true
	case "U", "ctrl+r":
		ctx := m.ctx
		return m.run("Redone", func() error { s.Flush(); return s.Redo(ctx) }), true
	case "s":
		ctx := m.ctx
		return m.run("Saved", func() error { s.Flush(); return s.Save(ctx) }), true
	}
	return nil, false
}

func (m gridModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.stopInput()
		m.refresh()
		return m, nil
	case "enter":
		s := m.session
		value := m.input.Value()
		mode, key, parent := m.mode, m.editAt, m.parent
		m.stopInput()
		switch mode {
		case editingCell:
			return m, m.run("Updated "+key.String(), func() error { return s.EditCell(key, value) })
		case editingComment:
			return m, m.run("Comment saved", func() error { return s.UpdateComment(key, value) })
		case addingTask:
			return m, m.run("Task added", func() error { _, err := s.AddTask(value); return err })
		case addingSubtask:
			return m, m.run("Subtask added", func() error { _, err := s.AddSubtask(parent, value); return err })
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m gridModel) View() string {
	undo, redo := m.session.UndoDepth()
	header := headerStyle.Render(fmt.Sprintf("%s  (%s)", m.session.Project(), grid.DefaultColumns()[m.col].Title))
	parts := []string{header, m.table.View()}
	if m.mode != browsing {
		parts = append(parts, m.input.View())
	}
	status := m.status
	switch m.level {
	case application.NoticeError:
		status = errStyle.Render(status)
	case application.NoticeWarning:
		status = warnStyle.Render(status)
	default:
		status = infoStyle.Render(status)
	}
	parts = append(parts,
		status,
		mutedStyle.Render(fmt.Sprintf("undo %d  redo %d", undo, redo)),
		mutedStyle.Render(gridHelpText),
	)
	return frameStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
