package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/config"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/webhook"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
	"github.com/google/go-cmp/cmp"
)

// runCLI executes the root command against dir and returns stdout.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	projectPath, logLevel, logFormat = "", "", ""
	addParent = 0
	showJSON, contactsJSON, scriptKeepGoing = false, false, false
	contactEmail, fetchOutput, serveAddr = "", "", ""
	webhooksJSON = false
	webhooksProject = ""

	var out, errOut bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&errOut)
	RootCmd.SetIn(strings.NewReader(""))
	RootCmd.SetArgs(append([]string{"-C", dir, "--log-level", "error"}, args...))
	err := RootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, dir, args...)
	if err != nil {
		t.Fatalf("plangrid %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func addedID(t *testing.T, out string) int64 {
	t.Helper()
	var id int64
	if _, err := fmt.Sscanf(out, "Added task %d", &id); err != nil {
		t.Fatalf("unexpected output %q: %v", out, err)
	}
	return id
}

func loadDoc(t *testing.T, dir, project string) *tree.Document {
	t.Helper()
	out := mustRun(t, dir, "show", project, "--json")
	var doc tree.Document
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode document: %v\n%s", err, out)
	}
	return &doc
}

func TestExecute(t *testing.T) {
	out := mustRun(t, t.TempDir(), "--help")
	if !strings.Contains(out, "plangrid") {
		t.Fatalf("help output missing name: %s", out)
	}
}

func TestInit(t *testing.T) {
	dir := t.TempDir()
	out := mustRun(t, dir, "init", "alpha")
	if !strings.Contains(out, "Successfully initialized project: alpha") {
		t.Fatalf("unexpected output: %s", out)
	}
	if _, err := os.Stat(config.Path(dir)); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	out = mustRun(t, dir, "init", "alpha")
	if !strings.Contains(out, "already exists") {
		t.Fatalf("second init should report existing project: %s", out)
	}

	mustRun(t, dir, "init", "beta")
	if diff := cmp.Diff("alpha\nbeta\n", mustRun(t, dir, "projects")); diff != "" {
		t.Fatalf("projects mismatch (-want +got):\n%s", diff)
	}
}

func TestInit_RejectsBadName(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "init", "../evil")
	if !errors.Is(err, domain.ErrInvalidProjectName) {
		t.Fatalf("expected invalid project name, got %v", err)
	}
}

func TestEditCommands(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init", "alpha")
	build := addedID(t, mustRun(t, dir, "add", "alpha", "Build"))
	design := addedID(t, mustRun(t, dir, "add", "alpha", "Design", "--parent", fmt.Sprint(build)))
	code := addedID(t, mustRun(t, dir, "add", "alpha", "Code", "--parent", fmt.Sprint(build)))

	mustRun(t, dir, "set", "alpha", fmt.Sprint(design), "cost", "10")
	mustRun(t, dir, "set", "alpha", fmt.Sprint(code), "cost", "15.5")
	mustRun(t, dir, "set", "alpha", fmt.Sprint(code), "description", "write", "the", "code")
	mustRun(t, dir, "move", "alpha", fmt.Sprint(code), "up")

	doc := loadDoc(t, dir, "alpha")
	parent, err := doc.Find(build)
	if err != nil {
		t.Fatal(err)
	}
	if parent.Cost != 25.5 {
		t.Fatalf("parent cost = %v, want 25.5", parent.Cost)
	}
	if got := []int64{parent.Subtasks[0].ID, parent.Subtasks[1].ID}; !cmp.Equal(got, []int64{code, design}) {
		t.Fatalf("order after move = %v", got)
	}
	if parent.Subtasks[0].Description != "write the code" {
		t.Fatalf("description = %q", parent.Subtasks[0].Description)
	}

	mustRun(t, dir, "rm", "alpha", fmt.Sprint(code))
	doc = loadDoc(t, dir, "alpha")
	if doc.Count() != 2 {
		t.Fatalf("expected 2 tasks after delete, got %d", doc.Count())
	}
	if parent, _ := doc.Find(build); parent.Cost != 10 {
		t.Fatalf("parent cost after delete = %v, want 10", parent.Cost)
	}
}

func TestSet_RejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init", "alpha")
	id := fmt.Sprint(addedID(t, mustRun(t, dir, "add", "alpha", "Build")))

	tests := []struct {
		name string
		args []string
	}{
		{"percent out of range", []string{"set", "alpha", id, "percentComplete", "150"}},
		{"bad date", []string{"set", "alpha", id, "startDate", "next week"}},
		{"unknown field", []string{"set", "alpha", id, "priority", "high"}},
		{"bad flag", []string{"set", "alpha", id, "flagged", "maybe"}},
		{"bad id", []string{"set", "alpha", "x", "cost", "1"}},
		{"missing task", []string{"set", "alpha", "99", "cost", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, dir, tt.args...)
			if !errors.As(MapError(err), new(*CLIError)) {
				t.Fatalf("expected a CLI error, got %v", err)
			}
		})
	}
}

func TestCellAndComment(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init", "alpha")
	id := addedID(t, mustRun(t, dir, "add", "alpha", "Build"))

	mustRun(t, dir, "cell", "alpha", "0-5", "50%")
	mustRun(t, dir, "comment", "alpha", "0-5", "half", "way")

	doc := loadDoc(t, dir, "alpha")
	task, _ := doc.Find(id)
	if task.PercentComplete != 50 {
		t.Fatalf("percent = %d, want 50", task.PercentComplete)
	}
	out := mustRun(t, dir, "show", "alpha")
	if !strings.Contains(out, "0-5: half way") {
		t.Fatalf("comment missing from show output:\n%s", out)
	}

	if _, err := runCLI(t, dir, "cell", "alpha", "0-3", "4 days"); err == nil {
		t.Fatal("duration column should be read-only")
	}
}

func TestScript(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init", "alpha")
	script := filepath.Join(dir, "edits.txt")
	body := `# plan
add Build
sub 1 Design
set 2 cost 40
add Scratch
undo
redo
undo
`
	if err := os.WriteFile(script, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
	mustRun(t, dir, "script", "alpha", script)

	doc := loadDoc(t, dir, "alpha")
	if doc.Count() != 2 {
		t.Fatalf("expected the undone task to be gone, got %d tasks", doc.Count())
	}
	if build, _ := doc.Find(1); build.Cost != 40 {
		t.Fatalf("rolled-up cost = %v, want 40", build.Cost)
	}

	bad := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(bad, []byte("add Ok\nfrobnicate\nadd Later\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, dir, "script", "alpha", bad); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected failure on line 2, got %v", err)
	}
}

func TestContactsAndShow(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init", "alpha")
	mustRun(t, dir, "contacts", "add", "ann", "Ann Lee", "--email", "ann@example.com")
	id := fmt.Sprint(addedID(t, mustRun(t, dir, "add", "alpha", "Build")))
	mustRun(t, dir, "set", "alpha", id, "assignedTo", "ann, bob")

	out := mustRun(t, dir, "contacts")
	if !strings.Contains(out, "ann@example.com") {
		t.Fatalf("contact missing:\n%s", out)
	}
	out = mustRun(t, dir, "show", "alpha")
	if !strings.Contains(out, "Ann Lee, bob") {
		t.Fatalf("assignees should show contact names:\n%s", out)
	}
}

func TestAttachFetchDetach(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init", "alpha")
	id := fmt.Sprint(addedID(t, mustRun(t, dir, "add", "alpha", "Build")))

	src := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(src, []byte("release notes"), 0600); err != nil {
		t.Fatal(err)
	}
	mustRun(t, dir, "attach", "alpha", id, src)

	doc := loadDoc(t, dir, "alpha")
	task := doc.Tasks[0]
	if len(task.Attachments) != 1 || task.Attachments[0].Name != "notes.txt" {
		t.Fatalf("attachments = %+v", task.Attachments)
	}
	stored := task.Attachments[0].StoredName

	dst := filepath.Join(dir, "copy.txt")
	mustRun(t, dir, "fetch", stored, "-o", dst)
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "release notes" {
		t.Fatalf("fetched %q", got)
	}

	mustRun(t, dir, "detach", "alpha", id, stored)
	if doc := loadDoc(t, dir, "alpha"); len(doc.Tasks[0].Attachments) != 0 {
		t.Fatal("attachment should be removed")
	}
	if _, err := runCLI(t, dir, "fetch", stored); err == nil {
		t.Fatal("fetching a deleted file should fail")
	}
}

func TestShow_MissingProject(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "show", "nope")
	if !errors.Is(err, domain.ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
}

func TestWebhooks_ListsFailedDeliveries(t *testing.T) {
	dir := t.TempDir()
	mustRun(t, dir, "init", "alpha")

	dead := webhook.NewDeadLetterStore(filepath.Join(dir, storage.PlangridDir, "webhooks.deadletter.jsonl"))
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, project := range []string{"alpha", "beta"} {
		if err := dead.Append(webhook.DeadLetter{Timestamp: at, Project: project, WebhookName: "ops", Op: "addTask", Error: "status 500", Attempts: 3}); err != nil {
			t.Fatal(err)
		}
	}

	out := mustRun(t, dir, "webhooks", "--project", "alpha")
	if !strings.Contains(out, "No webhooks configured.") {
		t.Errorf("missing empty config note:\n%s", out)
	}
	if !strings.Contains(out, "Failed deliveries (1)") || !strings.Contains(out, "ops  alpha/addTask  status 500") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "beta") {
		t.Errorf("other project leaked into output:\n%s", out)
	}
}
