package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/google/go-cmp/cmp"
)

// documentStore is what every backend under test implements.
type documentStore interface {
	domain.DocumentStore
	domain.GridStore
	domain.ProjectLister
}

func sampleDoc() *tree.Document {
	build := tree.NewTask(1, "Build")
	design := tree.NewTask(42, "Design")
	design.PercentComplete = 100
	design.AssignedTo = []string{"ana"}
	build.Subtasks = []*tree.Task{design}
	ship := tree.NewTask(7, "Ship")
	ship.Predecessor = []int64{42}
	doc := tree.NewDocument()
	_ = doc.AddTask(build)
	_ = doc.AddTask(ship)
	return doc
}

func exerciseStore(t *testing.T, s documentStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Load(ctx, "alpha"); !errors.Is(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if _, err := s.LoadGrid(ctx, "alpha"); !errors.Is(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound for grid, got %v", err)
	}

	doc := sampleDoc()
	if err := s.Save(ctx, "alpha", doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := s.Load(ctx, "alpha")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(doc, loaded); diff != "" {
		t.Errorf("document round-trip (-want +got):\n%s", diff)
	}

	g := grid.New()
	g.SetText(grid.CellKey{Row: 0, Col: grid.ColName}, "Build")
	g.SetComment(grid.CellKey{Row: 0, Col: grid.ColName}, "check scope")
	if err := s.SaveGrid(ctx, "alpha", g); err != nil {
		t.Fatalf("SaveGrid: %v", err)
	}
	lg, err := s.LoadGrid(ctx, "alpha")
	if err != nil {
		t.Fatalf("LoadGrid: %v", err)
	}
	c, _ := lg.Cell(grid.CellKey{Row: 0, Col: grid.ColName})
	if c.Comment != "check scope" {
		t.Errorf("comment lost: %+v", c)
	}

	doc.Tasks[1].Name = "Ship it"
	if err := s.Save(ctx, "alpha", doc); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	loaded, _ = s.Load(ctx, "alpha")
	if loaded.Tasks[1].Name != "Ship it" {
		t.Errorf("overwrite lost, got %q", loaded.Tasks[1].Name)
	}

	if err := s.Save(ctx, "beta", tree.NewDocument()); err != nil {
		t.Fatal(err)
	}
	names, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"alpha", "beta"}, names); diff != "" {
		t.Errorf("projects (-want +got):\n%s", diff)
	}

	if err := s.Save(ctx, "../escape", doc); err == nil {
		t.Error("expected invalid project name to be rejected")
	}
}

func TestFilesystemRepository(t *testing.T) {
	repo := NewFilesystemRepository(t.TempDir())
	if repo.IsInitialized() {
		t.Error("fresh directory must not be initialized")
	}
	if err := repo.Initialize(); err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, repo)
}

func TestFilesystemRepository_Create(t *testing.T) {
	repo := NewFilesystemRepository(t.TempDir())
	ctx := context.Background()

	created, err := repo.Create(ctx, "alpha")
	if err != nil || !created {
		t.Fatalf("Create = %v, %v", created, err)
	}
	if err := repo.Save(ctx, "alpha", sampleDoc()); err != nil {
		t.Fatal(err)
	}
	created, err = repo.Create(ctx, "alpha")
	if err != nil || created {
		t.Fatalf("second Create = %v, %v", created, err)
	}
	doc, _ := repo.Load(ctx, "alpha")
	if doc.Count() != 3 {
		t.Error("Create must not overwrite an existing project")
	}
}

func TestFilesystemRepository_LoadNormalizes(t *testing.T) {
	root := t.TempDir()
	repo := NewFilesystemRepository(root)
	if err := repo.Initialize(); err != nil {
		t.Fatal(err)
	}
	raw := `{"tasks":[{"id":9,"name":"Legacy","subtasks":null}]}`
	path := filepath.Join(root, PlangridDir, ProjectsDir, "old.json")
	if err := os.WriteFile(path, []byte(raw), 0600); err != nil {
		t.Fatal(err)
	}
	doc, err := repo.Load(context.Background(), "old")
	if err != nil {
		t.Fatal(err)
	}
	if doc.TaskIDCounter != 9 || doc.Tasks[0].Status != tree.StatusNotStarted || doc.Tasks[0].Subtasks == nil {
		t.Errorf("document not normalized: %+v", doc.Tasks[0])
	}
}

func TestFilesystemRepository_ResolvePath(t *testing.T) {
	repo := NewFilesystemRepository(t.TempDir())
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"alpha.json", false},
		{"", true},
		{"../alpha.json", true},
		{"nested/alpha.json", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.ResolvePath(tt.name)
			if (err != nil) != tt.wantErr {
				t.Errorf("ResolvePath(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
		})
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "plangrid.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close() //nolint:errcheck
	exerciseStore(t, repo)
}

func TestPgRepository(t *testing.T) {
	dsn := os.Getenv("PLANGRID_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("PLANGRID_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	repo, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()
	if _, err := repo.pool.Exec(ctx, "DELETE FROM "+pgDocumentsTable); err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, repo)
}
