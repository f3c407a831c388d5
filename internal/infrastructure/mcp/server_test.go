package mcp

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

func newServer(t *testing.T) (*Server, *wiring.Workspace) {
	t.Helper()
	ws, err := wiring.OpenWorkspace(context.Background(), t.TempDir(), nil, nil, wiring.Options{})
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	s := NewServer(ws)
	t.Cleanup(func() {
		_ = s.Close(context.Background())
		_ = ws.Close()
	})
	return s, ws
}

func TestServer_RegistersTools(t *testing.T) {
	s, _ := newServer(t)
	var names []string
	for _, tool := range s.mcpServer.Tools() {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"plangrid_list_projects", "plangrid_add_task", "plangrid_edit_cell", "plangrid_move_task"} {
		if !slices.Contains(names, want) {
			t.Errorf("missing tool %s in %v", want, names)
		}
	}
}

func TestServer_EditFlow(t *testing.T) {
	s, ws := newServer(t)
	ctx := context.Background()

	if msg, err := s.handleCreateProject(ctx, ProjectArgs{Project: "alpha"}); err != nil || !strings.Contains(msg, "created") {
		t.Fatalf("create project: %q %v", msg, err)
	}
	if _, err := s.handleAddTask(ctx, AddTaskArgs{Project: "alpha", Name: "Build"}); err != nil {
		t.Fatalf("add task: %v", err)
	}
	if _, err := s.handleAddTask(ctx, AddTaskArgs{Project: "alpha", ParentID: 1, Name: "Design"}); err != nil {
		t.Fatalf("add subtask: %v", err)
	}
	if _, err := s.handleUpdateTask(ctx, UpdateTaskArgs{Project: "alpha", TaskID: 2, Field: "cost", Value: 12.5}); err != nil {
		t.Fatalf("update task: %v", err)
	}

	// Parent cost is calculated.
	if _, err := s.handleUpdateTask(ctx, UpdateTaskArgs{Project: "alpha", TaskID: 1, Field: "cost", Value: 3.0}); err == nil {
		t.Error("expected derived field refusal")
	}

	rows, err := s.handleGetGrid(ctx, ProjectArgs{Project: "alpha"})
	if err != nil {
		t.Fatalf("get grid: %v", err)
	}
	grid := rows.([]GridRow)
	if len(grid) != 2 || grid[1].Label != "Build > Design" || grid[1].Depth != 1 {
		t.Fatalf("unexpected grid rows: %+v", grid)
	}

	if _, err := s.handleEditCell(ctx, EditCellArgs{Project: "alpha", Row: 1, Col: 0, Text: "Sketch"}); err != nil {
		t.Fatalf("edit cell: %v", err)
	}

	doc, err := ws.Store.Load(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	build, _ := doc.Find(1)
	design, _ := doc.Find(2)
	if build.Cost != 12.5 || design.Name != "Sketch" {
		t.Errorf("expected saved edits, got cost %v name %q", build.Cost, design.Name)
	}

	if _, err := s.handleMoveTask(ctx, MoveTaskArgs{Project: "alpha", TaskID: 1, Direction: "sideways"}); err == nil {
		t.Error("expected invalid direction")
	}
	if _, err := s.handleDeleteTask(ctx, TaskArgs{Project: "alpha", TaskID: 1}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	docAny, err := s.handleGetDocument(ctx, ProjectArgs{Project: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if got := docAny.(*tree.Document); len(got.Tasks) != 0 {
		t.Errorf("expected cascade delete, got %d tasks", len(got.Tasks))
	}
}

func TestServer_MissingProject(t *testing.T) {
	s, _ := newServer(t)
	if _, err := s.handleGetDocument(context.Background(), ProjectArgs{Project: "ghost"}); err == nil {
		t.Error("expected error for missing project")
	}
}
