package rollup_test

import (
	"testing"

	"github.com/felixgeelhaar/plangrid/pkg/domain/rollup"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/google/go-cmp/cmp"
)

func leaf(id int64, name string, pct int, cost float64, end string) *tree.Task {
	t := tree.NewTask(id, name)
	t.PercentComplete = pct
	t.Cost = cost
	t.EndDate = end
	return t
}

func withChildren(t *tree.Task, subs ...*tree.Task) *tree.Task {
	t.Subtasks = append(t.Subtasks, subs...)
	return t
}

func TestRecompute_MeanOfChildren(t *testing.T) {
	build := withChildren(tree.NewTask(1, "Build"),
		leaf(2, "Design", 100, 0, ""),
		leaf(3, "Code", 50, 0, ""),
	)
	doc := tree.NewDocument()
	_ = doc.AddTask(build)

	changes, err := rollup.Recompute(doc, 3)
	if err != nil {
		t.Fatal(err)
	}
	if build.PercentComplete != 75 {
		t.Errorf("expected 75, got %d", build.PercentComplete)
	}
	want := []rollup.Change{{TaskID: 1, Field: tree.FieldPercentComplete, Value: 75}}
	if diff := cmp.Diff(want, changes); diff != "" {
		t.Errorf("changes (-want +got):\n%s", diff)
	}
}

func TestRecompute_PropagatesToRoot(t *testing.T) {
	deep := leaf(4, "Deep", 30, 10, "2024-05-01")
	mid := withChildren(tree.NewTask(3, "Mid"), deep, leaf(5, "Other", 60, 5.5, "2024-04-01"))
	root := withChildren(tree.NewTask(1, "Root"), mid, leaf(2, "Side", 100, 100, ""))
	doc := tree.NewDocument()
	_ = doc.AddTask(root)

	deep.PercentComplete = 90
	deep.EndDate = "2024-06-30"
	if _, err := rollup.Recompute(doc, 4); err != nil {
		t.Fatal(err)
	}

	if mid.PercentComplete != 75 || mid.Cost != 15.5 || mid.EndDate != "2024-06-30" {
		t.Errorf("mid = %d %v %s", mid.PercentComplete, mid.Cost, mid.EndDate)
	}
	// round((75 + 100) / 2) = round(87.5)
	if root.PercentComplete != 88 || root.Cost != 115.5 || root.EndDate != "2024-06-30" {
		t.Errorf("root = %d %v %s", root.PercentComplete, root.Cost, root.EndDate)
	}
}

func TestRecompute_LeafIsAuthoritative(t *testing.T) {
	l := leaf(1, "Solo", 42, 7, "2024-01-01")
	doc := tree.NewDocument()
	_ = doc.AddTask(l)

	changes, err := rollup.Recompute(doc, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(changes) != 0 || l.PercentComplete != 42 {
		t.Errorf("leaf must not change: %v %d", changes, l.PercentComplete)
	}
}

func TestRecompute_EndDateUndefinedWithoutChildDates(t *testing.T) {
	p := withChildren(leaf(1, "P", 0, 0, "2023-01-01"), leaf(2, "A", 0, 0, ""))
	doc := tree.NewDocument()
	_ = doc.AddTask(p)

	if _, err := rollup.Recompute(doc, 2); err != nil {
		t.Fatal(err)
	}
	if p.EndDate != "" {
		t.Errorf("expected empty end date, got %q", p.EndDate)
	}
}

func TestRecomputeAll(t *testing.T) {
	a := withChildren(tree.NewTask(1, "A"), leaf(2, "A1", 20, 1, ""), leaf(3, "A2", 40, 2, ""))
	b := withChildren(tree.NewTask(4, "B"), withChildren(tree.NewTask(5, "B1"), leaf(6, "B1a", 10, 3, "")))
	doc := tree.NewDocument()
	_ = doc.AddTask(a)
	_ = doc.AddTask(b)

	rollup.RecomputeAll(doc)

	if a.PercentComplete != 30 || a.Cost != 3 {
		t.Errorf("a = %d %v", a.PercentComplete, a.Cost)
	}
	if b.PercentComplete != 10 || b.Cost != 3 {
		t.Errorf("b = %d %v", b.PercentComplete, b.Cost)
	}
}

func TestApplyStatus(t *testing.T) {
	l := leaf(1, "Leaf", 40, 0, "")

	changes := rollup.ApplyStatus(l, tree.StatusCompleted)
	if l.PercentComplete != 100 || len(changes) != 2 {
		t.Errorf("completed: pct=%d changes=%v", l.PercentComplete, changes)
	}
	rollup.ApplyStatus(l, tree.StatusNotStarted)
	if l.PercentComplete != 0 {
		t.Errorf("not started: pct=%d", l.PercentComplete)
	}
	l.PercentComplete = 55
	rollup.ApplyStatus(l, tree.StatusOnHold)
	if l.PercentComplete != 55 {
		t.Errorf("on hold must keep percent, got %d", l.PercentComplete)
	}

	parent := withChildren(leaf(2, "Parent", 30, 0, ""), leaf(3, "Kid", 30, 0, ""))
	rollup.ApplyStatus(parent, tree.StatusCompleted)
	if parent.PercentComplete != 30 {
		t.Errorf("status rule must not apply to parents, got %d", parent.PercentComplete)
	}
}
