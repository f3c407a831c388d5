package projection

import (
	"strings"

	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// LabelSeparator joins ancestor names in a hierarchical path label.
const LabelSeparator = " > "

// ListSeparator joins several labels or ids in one grid cell.
const ListSeparator = ", "

type labelEntry struct {
	id    int64
	label string
}

// Labels is the id ↔ path-label cache of one document state. Every named
// task gets a label made of its named ancestors and its own name; blank
// ancestors contribute nothing, so two tasks can render the same label.
// Rebuild it after any rename or structural change.
type Labels struct {
	ordered []labelEntry
	byID    map[int64]string
	byLabel map[string][]int64
}

// BuildLabels derives the label of every named task in pre-order.
func BuildLabels(doc *tree.Document) *Labels {
	l := &Labels{
		byID:    make(map[int64]string),
		byLabel: make(map[string][]int64),
	}
	if doc == nil {
		return l
	}
	var walk func(tasks []*tree.Task, prefix []string)
	walk = func(tasks []*tree.Task, prefix []string) {
		for _, t := range tasks {
			path := prefix
			if name := strings.TrimSpace(t.Name); name != "" {
				path = append(append([]string{}, prefix...), name)
				label := strings.Join(path, LabelSeparator)
				l.ordered = append(l.ordered, labelEntry{id: t.ID, label: label})
				l.byID[t.ID] = label
				l.byLabel[label] = append(l.byLabel[label], t.ID)
			}
			walk(t.Subtasks, path)
		}
	}
	walk(doc.Tasks, nil)
	return l
}

// Label returns the path label of a named task.
func (l *Labels) Label(id int64) (string, bool) {
	label, ok := l.byID[id]
	return label, ok
}

// Resolve maps a label back to a task id. When several tasks share the label
// the first one in pre-order wins.
func (l *Labels) Resolve(label string) (int64, bool) {
	ids := l.byLabel[strings.TrimSpace(label)]
	if len(ids) == 0 {
		return 0, false
	}
	return ids[0], true
}

// Ambiguous reports whether more than one task renders the label.
func (l *Labels) Ambiguous(label string) bool {
	return len(l.byLabel[strings.TrimSpace(label)]) > 1
}

// Duplicates returns every label shared by more than one task.
func (l *Labels) Duplicates() map[string][]int64 {
	dups := make(map[string][]int64)
	for label, ids := range l.byLabel {
		if len(ids) > 1 {
			dups[label] = append([]int64{}, ids...)
		}
	}
	return dups
}

// Candidates returns every labelled task in pre-order, the set a predecessor
// may be chosen from.
func (l *Labels) Candidates() []int64 {
	ids := make([]int64, len(l.ordered))
	for i, e := range l.ordered {
		ids[i] = e.id
	}
	return ids
}

// Format renders a predecessor id list as cell text. Ids without a label
// (deleted or pending tasks) are left out.
func (l *Labels) Format(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if label, ok := l.byID[id]; ok {
			parts = append(parts, label)
		}
	}
	return strings.Join(parts, ListSeparator)
}

// ResolveList parses comma separated labels into ids. Labels that match no
// task are returned separately and left out of ids.
func (l *Labels) ResolveList(text string) (ids []int64, unresolved []string) {
	ids = []int64{}
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, ok := l.Resolve(part)
		if !ok {
			unresolved = append(unresolved, part)
			continue
		}
		ids = append(ids, id)
	}
	return ids, unresolved
}
