// Package mcp exposes plangrid projects to MCP clients. Every edit goes
// through a tree session, so agents get the same validation, roll-up and
// relaying as people editing in the grid.
package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/projection"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

var (
	Version     = "dev"
	BuildCommit = "unknown"
	BuildDate   = "unknown"
)

type openSession struct {
	session *application.Session
	close   func(context.Context) error
}

type Server struct {
	mcpServer *mcp.Server
	ws        *wiring.Workspace

	mu       sync.Mutex
	sessions map[string]openSession
}

// mcpErr returns a user-facing error for MCP clients, keeping the cause.
func mcpErr(friendly string, err error) error {
	if err == nil {
		return fmt.Errorf("%s", friendly)
	}
	return fmt.Errorf("%s: %w", friendly, err)
}

func NewServer(ws *wiring.Workspace) *Server {
	info := mcp.ServerInfo{
		Name:    "plangrid",
		Version: Version,
	}
	s := &Server{
		mcpServer: mcp.NewServer(info,
			mcp.WithTitle("plangrid MCP Server"),
			mcp.WithDescription("plangrid exposes hierarchical project plans as task trees and grids."),
			mcp.WithBuildInfo(BuildCommit, BuildDate),
			mcp.WithInstructions("List projects, read a document or grid, then edit tasks by id. Parent percent, cost and end date are calculated and cannot be set."),
		),
		ws:       ws,
		sessions: make(map[string]openSession),
	}
	s.registerTools()
	s.registerSchemaResource()
	return s
}

type ProjectArgs struct {
	Project string `json:"project" jsonschema:"description=Project name"`
}

type AddTaskArgs struct {
	Project  string `json:"project" jsonschema:"description=Project name"`
	ParentID int64  `json:"parent_id,omitempty" jsonschema:"description=Parent task id; omit for a top-level task"`
	Name     string `json:"name" jsonschema:"description=Task name"`
}

type UpdateTaskArgs struct {
	Project string `json:"project" jsonschema:"description=Project name"`
	TaskID  int64  `json:"task_id" jsonschema:"description=Task id"`
	Field   string `json:"field" jsonschema:"description=One of name, startDate, endDate, percentComplete, assignedTo, cost, status, predecessor, flagged, description"`
	Value   any    `json:"value" jsonschema:"description=New value in the field's JSON form"`
}

type EditCellArgs struct {
	Project string `json:"project" jsonschema:"description=Project name"`
	Row     int    `json:"row" jsonschema:"description=Zero-based grid row"`
	Col     int    `json:"col" jsonschema:"description=Zero-based grid column"`
	Text    string `json:"text" jsonschema:"description=Cell text as a user would type it"`
}

type TaskArgs struct {
	Project string `json:"project" jsonschema:"description=Project name"`
	TaskID  int64  `json:"task_id" jsonschema:"description=Task id"`
}

type MoveTaskArgs struct {
	Project   string `json:"project" jsonschema:"description=Project name"`
	TaskID    int64  `json:"task_id" jsonschema:"description=Task id"`
	Direction string `json:"direction" jsonschema:"description=up or down"`
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("plangrid_list_projects").
		Description("List the projects in the workspace").
		Handler(s.handleListProjects)

	s.mcpServer.Tool("plangrid_create_project").
		Description("Create an empty project unless it exists").
		Handler(s.handleCreateProject)

	s.mcpServer.Tool("plangrid_get_document").
		Description("Retrieve a project's task tree").
		Handler(s.handleGetDocument)

	s.mcpServer.Tool("plangrid_get_grid").
		Description("Retrieve a project as grid rows with path labels").
		Handler(s.handleGetGrid)

	s.mcpServer.Tool("plangrid_add_task").
		Description("Add a task, optionally under a parent").
		Handler(s.handleAddTask)

	s.mcpServer.Tool("plangrid_update_task").
		Description("Set one field of a task").
		Handler(s.handleUpdateTask)

	s.mcpServer.Tool("plangrid_edit_cell").
		Description("Edit a grid cell by row and column").
		Handler(s.handleEditCell)

	s.mcpServer.Tool("plangrid_delete_task").
		Description("Delete a task and its subtasks").
		Handler(s.handleDeleteTask)

	s.mcpServer.Tool("plangrid_move_task").
		Description("Swap a task with its previous or next sibling").
		Handler(s.handleMoveTask)
}

// session returns the open session of project, opening it on first use.
func (s *Server) session(ctx context.Context, project string) (*application.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open, ok := s.sessions[project]; ok {
		return open.session, nil
	}
	sess, closeFn, err := s.ws.OpenSession(ctx, wiring.SessionOptions{Project: project, Mode: application.ModeTree})
	if err != nil {
		return nil, err
	}
	s.sessions[project] = openSession{session: sess, close: closeFn}
	return sess, nil
}

// commit flushes pending patches and persists local edits so other
// processes see them right away.
func (s *Server) commit(ctx context.Context, sess *application.Session) error {
	sess.Flush()
	if s.ws.Remote() {
		return nil
	}
	return sess.Save(ctx)
}

func (s *Server) handleListProjects(ctx context.Context, _ struct{}) (any, error) {
	names, err := s.ws.Store.ListProjects(ctx)
	if err != nil {
		return nil, mcpErr("Failed to list projects", err)
	}
	return map[string]any{"projects": names}, nil
}

func (s *Server) handleCreateProject(ctx context.Context, args ProjectArgs) (string, error) {
	created, err := s.ws.CreateProject(ctx, args.Project)
	if err != nil {
		return "", mcpErr("Failed to create project. Names use letters, digits, '-' and '_'", err)
	}
	if !created {
		return fmt.Sprintf("Project %s already exists", args.Project), nil
	}
	return fmt.Sprintf("Project %s created", args.Project), nil
}

func (s *Server) handleGetDocument(ctx context.Context, args ProjectArgs) (any, error) {
	sess, err := s.session(ctx, args.Project)
	if err != nil {
		return nil, mcpErr("Failed to open project. Create it with plangrid_create_project", err)
	}
	return sess.Document(), nil
}

// GridRow is one row of the grid view.
type GridRow struct {
	Row   int      `json:"row"`
	ID    int64    `json:"id"`
	Depth int      `json:"depth"`
	Label string   `json:"label"`
	Cells []string `json:"cells"`
}

func (s *Server) handleGetGrid(ctx context.Context, args ProjectArgs) (any, error) {
	sess, err := s.session(ctx, args.Project)
	if err != nil {
		return nil, mcpErr("Failed to open project. Create it with plangrid_create_project", err)
	}
	return gridRows(sess.Rows(), sess.Labels(), sess.Grid()), nil
}

func gridRows(rows *projection.Mapping, labels *projection.Labels, g *grid.Grid) []GridRow {
	out := make([]GridRow, 0, len(rows.Rows()))
	for i, r := range rows.Rows() {
		label, _ := labels.Label(r.Task.ID)
		out = append(out, GridRow{Row: i, ID: r.Task.ID, Depth: r.Depth, Label: label, Cells: g.RowTexts(i)})
	}
	return out
}

func (s *Server) handleAddTask(ctx context.Context, args AddTaskArgs) (string, error) {
	sess, err := s.session(ctx, args.Project)
	if err != nil {
		return "", mcpErr("Failed to open project", err)
	}
	var id int64
	if args.ParentID == 0 {
		id, err = sess.AddTask(args.Name)
	} else {
		id, err = sess.AddSubtask(args.ParentID, args.Name)
	}
	if err != nil {
		return "", mcpErr("Failed to add task. Tasks nest at most four levels deep", err)
	}
	if err := s.commit(ctx, sess); err != nil {
		return "", mcpErr("Task added but saving failed", err)
	}
	return fmt.Sprintf("Task %d added", id), nil
}

func (s *Server) handleUpdateTask(ctx context.Context, args UpdateTaskArgs) (string, error) {
	sess, err := s.session(ctx, args.Project)
	if err != nil {
		return "", mcpErr("Failed to open project", err)
	}
	if err := sess.UpdateField(args.TaskID, tree.Field(args.Field), args.Value); err != nil {
		return "", mcpErr(fmt.Sprintf("Failed to set %s of task %d", args.Field, args.TaskID), err)
	}
	if err := s.commit(ctx, sess); err != nil {
		return "", mcpErr("Task updated but saving failed", err)
	}
	return fmt.Sprintf("Task %d updated", args.TaskID), nil
}

func (s *Server) handleEditCell(ctx context.Context, args EditCellArgs) (string, error) {
	sess, err := s.session(ctx, args.Project)
	if err != nil {
		return "", mcpErr("Failed to open project", err)
	}
	key := grid.CellKey{Row: args.Row, Col: args.Col}
	if err := sess.EditCell(key, args.Text); err != nil {
		return "", mcpErr(fmt.Sprintf("Failed to edit cell %s", key), err)
	}
	if err := s.commit(ctx, sess); err != nil {
		return "", mcpErr("Cell edited but saving failed", err)
	}
	return fmt.Sprintf("Cell %s updated", key), nil
}

func (s *Server) handleDeleteTask(ctx context.Context, args TaskArgs) (string, error) {
	sess, err := s.session(ctx, args.Project)
	if err != nil {
		return "", mcpErr("Failed to open project", err)
	}
	if err := sess.DeleteTask(args.TaskID); err != nil {
		return "", mcpErr(fmt.Sprintf("Failed to delete task %d", args.TaskID), err)
	}
	if err := s.commit(ctx, sess); err != nil {
		return "", mcpErr("Task deleted but saving failed", err)
	}
	return fmt.Sprintf("Task %d deleted", args.TaskID), nil
}

func (s *Server) handleMoveTask(ctx context.Context, args MoveTaskArgs) (string, error) {
	sess, err := s.session(ctx, args.Project)
	if err != nil {
		return "", mcpErr("Failed to open project", err)
	}
	dir, err := tree.ParseDirection(args.Direction)
	if err != nil {
		return "", mcpErr("Direction must be up or down", err)
	}
	if err := sess.Move(args.TaskID, dir); err != nil {
		return "", mcpErr(fmt.Sprintf("Failed to move task %d", args.TaskID), err)
	}
	if err := s.commit(ctx, sess); err != nil {
		return "", mcpErr("Task moved but saving failed", err)
	}
	return fmt.Sprintf("Task %d moved %s", args.TaskID, args.Direction), nil
}

// Close closes every open session.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for project, open := range s.sessions {
		if err := open.close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.sessions, project)
	}
	return firstErr
}

func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr, mcp.WithDefaultCORS())
}
