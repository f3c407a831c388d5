package cli

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/config"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
)

func newTestGrid(t *testing.T) (gridModel, *application.Session) {
	t.Helper()
	ctx := context.Background()
	ws, err := wiring.OpenWorkspace(ctx, t.TempDir(), config.Default(), nil, wiring.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	if _, err := ws.CreateProject(ctx, "alpha"); err != nil {
		t.Fatal(err)
	}
	view := &programView{}
	s, closeFn, err := ws.OpenSession(ctx, wiring.SessionOptions{
		Project:  "alpha",
		Mode:     application.ModeGrid,
		View:     view,
		Notifier: view,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = closeFn(ctx) })
	return newGridModel(ctx, s, view, nil), s
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds msg to the model. Once back to browsing it runs the returned
// command and feeds a notice back the way the program would; cursor blink
// commands of an open input are skipped.
func press(t *testing.T, m gridModel, msg tea.Msg) gridModel {
	t.Helper()
	next, cmd := m.Update(msg)
	m = next.(gridModel)
	if cmd == nil || m.mode != browsing {
		return m
	}
	if out := cmd(); out != nil {
		if _, ok := out.(noticeMsg); ok {
			next, _ = m.Update(out)
			m = next.(gridModel)
		}
	}
	return m
}

func TestGridModel_AddEditUndo(t *testing.T) {
	m, s := newTestGrid(t)

	m = press(t, m, keys("a"))
	if m.mode != addingTask {
		t.Fatalf("mode = %v, want addingTask", m.mode)
	}
	m = press(t, m, keys("Build"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if s.Rows().Len() != 1 {
		t.Fatalf("rows = %d, want 1", s.Rows().Len())
	}
	if m.mode != browsing {
		t.Fatal("input should close after enter")
	}

	for i := 0; i < grid.ColCost; i++ {
		m = press(t, m, keys("l"))
	}
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.mode != editingCell || !m.view.HasFocus("0-8") {
		t.Fatalf("editing cost cell should take focus, mode %v", m.mode)
	}
	m = press(t, m, keys("12"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.view.HasFocus("0-8") {
		t.Fatal("focus should be released after commit")
	}
	s.Flush()
	if got := s.Document().Tasks[0].Cost; got != 12 {
		t.Fatalf("cost = %v, want 12", got)
	}

	m = press(t, m, keys("u"))
	if got := s.Document().Tasks[0].Cost; got != 0 {
		t.Fatalf("cost after undo = %v, want 0", got)
	}
	if m.status != "Undone" {
		t.Fatalf("status = %q", m.status)
	}
}

func TestGridModel_RejectedEditShowsError(t *testing.T) {
	m, s := newTestGrid(t)
	if _, err := s.AddTask("Build"); err != nil {
		t.Fatal(err)
	}
	m.refresh()

	m.col = grid.ColPercentComplete
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = press(t, m, keys("abc"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.level != application.NoticeError {
		t.Fatalf("level = %v, want error; status %q", m.level, m.status)
	}
	if got := s.Document().Tasks[0].PercentComplete; got != 0 {
		t.Fatalf("percent = %d, want unchanged", got)
	}
}

func TestGridModel_EscapeCancels(t *testing.T) {
	m, s := newTestGrid(t)
	m = press(t, m, keys("a"))
	m = press(t, m, keys("Scratch"))
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.mode != browsing || s.Rows().Len() != 0 {
		t.Fatal("escape should discard the new task")
	}
}

func TestGridModel_FlashMarksRow(t *testing.T) {
	m, s := newTestGrid(t)
	if _, err := s.AddTask("Build"); err != nil {
		t.Fatal(err)
	}
	next, cmd := m.Update(renderMsg{target: "0-8", flash: true})
	m = next.(gridModel)
	if !m.flash[0] || cmd == nil {
		t.Fatal("flash should mark row 0 and schedule its end")
	}
	next, _ = m.Update(flashDoneMsg{row: 0})
	if next.(gridModel).flash[0] {
		t.Fatal("flash should clear")
	}
}
