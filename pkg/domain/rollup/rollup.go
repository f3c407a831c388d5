// Package rollup derives parent percent complete, cost and end date from
// their children.
package rollup

import (
	"math"

	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// Change is one derived field that took a new value during recomputation.
type Change struct {
	TaskID int64
	Field  tree.Field
	Value  any
}

// Aggregate holds the derived values of a parent.
type Aggregate struct {
	PercentComplete int
	Cost            float64
	EndDate         string
}

// Of computes the aggregate of a task's direct children. It reports false for
// leaves, whose fields are authoritative.
func Of(t *tree.Task) (Aggregate, bool) {
	if !t.HasChildren() {
		return Aggregate{}, false
	}
	var (
		sum  int
		agg  Aggregate
		kids = len(t.Subtasks)
	)
	for _, c := range t.Subtasks {
		sum += c.PercentComplete
		agg.Cost += c.Cost
		if c.EndDate != "" && c.EndDate > agg.EndDate {
			agg.EndDate = c.EndDate
		}
	}
	agg.PercentComplete = int(math.Round(float64(sum) / float64(kids)))
	return agg, true
}

// apply stores an aggregate on t and appends the fields that changed.
func apply(t *tree.Task, agg Aggregate, out []Change) []Change {
	if t.PercentComplete != agg.PercentComplete {
		t.PercentComplete = agg.PercentComplete
		out = append(out, Change{TaskID: t.ID, Field: tree.FieldPercentComplete, Value: agg.PercentComplete})
	}
	if t.Cost != agg.Cost {
		t.Cost = agg.Cost
		out = append(out, Change{TaskID: t.ID, Field: tree.FieldCost, Value: agg.Cost})
	}
	if t.EndDate != agg.EndDate {
		t.EndDate = agg.EndDate
		out = append(out, Change{TaskID: t.ID, Field: tree.FieldEndDate, Value: agg.EndDate})
	}
	return out
}

// Recompute refreshes the derived fields of id (when it has children) and of
// every ancestor, nearest first. The returned changes are in the order they
// were made and are meant to be broadcast as update patches.
func Recompute(doc *tree.Document, id int64) ([]Change, error) {
	t, err := doc.Find(id)
	if err != nil {
		return nil, err
	}
	ancestors, err := doc.Ancestors(id)
	if err != nil {
		return nil, err
	}
	var changes []Change
	for _, n := range append([]*tree.Task{t}, ancestors...) {
		if agg, ok := Of(n); ok {
			changes = apply(n, agg, changes)
		}
	}
	return changes, nil
}

// RecomputeAll refreshes every parent in the document bottom-up.
func RecomputeAll(doc *tree.Document) []Change {
	var changes []Change
	var visit func(t *tree.Task)
	visit = func(t *tree.Task) {
		for _, c := range t.Subtasks {
			visit(c)
		}
		if agg, ok := Of(t); ok {
			changes = apply(t, agg, changes)
		}
	}
	for _, t := range doc.Tasks {
		visit(t)
	}
	return changes
}

// ApplyStatus sets a task's status and, on leaves, forces percent complete to
// 100 for Completed and 0 for Not Started. It returns the fields that changed.
func ApplyStatus(t *tree.Task, status tree.Status) []Change {
	var changes []Change
	if t.Status != status {
		t.Status = status
		changes = append(changes, Change{TaskID: t.ID, Field: tree.FieldStatus, Value: status})
	}
	if t.HasChildren() {
		return changes
	}
	pct := -1
	switch status {
	case tree.StatusCompleted:
		pct = 100
	case tree.StatusNotStarted:
		pct = 0
	}
	if pct >= 0 && t.PercentComplete != pct {
		t.PercentComplete = pct
		changes = append(changes, Change{TaskID: t.ID, Field: tree.FieldPercentComplete, Value: pct})
	}
	return changes
}
