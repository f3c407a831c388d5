package tree

import (
	"fmt"
	"slices"
)

// Document is the persisted snapshot of one project plan.
type Document struct {
	Tasks         []*Task `json:"tasks"`
	TaskIDCounter int64   `json:"taskIdCounter"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Tasks: []*Task{}}
}

// Location describes where a task sits in the document. Parent is nil for
// root tasks; Depth is 0 for root tasks.
type Location struct {
	Task   *Task
	Parent *Task
	Index  int
	Depth  int
}

// siblings returns the slice the task belongs to.
func (l Location) siblings(d *Document) *[]*Task {
	if l.Parent == nil {
		return &d.Tasks
	}
	return &l.Parent.Subtasks
}

// Walk visits every task in pre-order. Returning false from fn skips the
// task's subtree.
func (d *Document) Walk(fn func(loc Location) bool) {
	var walk func(tasks []*Task, parent *Task, depth int)
	walk = func(tasks []*Task, parent *Task, depth int) {
		for i, t := range tasks {
			if fn(Location{Task: t, Parent: parent, Index: i, Depth: depth}) {
				walk(t.Subtasks, t, depth+1)
			}
		}
	}
	walk(d.Tasks, nil, 0)
}

// Locate finds a task by id anywhere in the document.
func (d *Document) Locate(id int64) (Location, error) {
	var found *Location
	d.Walk(func(loc Location) bool {
		if found != nil {
			return false
		}
		if loc.Task.ID == id {
			l := loc
			found = &l
			return false
		}
		return true
	})
	if found == nil {
		return Location{}, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	return *found, nil
}

// Find returns the task with the given id.
func (d *Document) Find(id int64) (*Task, error) {
	loc, err := d.Locate(id)
	if err != nil {
		return nil, err
	}
	return loc.Task, nil
}

// Ancestors returns the ancestor chain of a task, nearest parent first.
func (d *Document) Ancestors(id int64) ([]*Task, error) {
	var path []*Task
	var walk func(tasks []*Task) bool
	walk = func(tasks []*Task) bool {
		for _, t := range tasks {
			if t.ID == id {
				return true
			}
			path = append(path, t)
			if walk(t.Subtasks) {
				return true
			}
			path = path[:len(path)-1]
		}
		return false
	}
	if !walk(d.Tasks) {
		return nil, fmt.Errorf("task %d: %w", id, ErrTaskNotFound)
	}
	slices.Reverse(path)
	return path, nil
}

// MaxID returns the highest id in use, or 0 for an empty document.
func (d *Document) MaxID() int64 {
	var hi int64
	d.Walk(func(loc Location) bool {
		if loc.Task.ID > hi {
			hi = loc.Task.ID
		}
		return true
	})
	return hi
}

// Normalize raises the id counter watermark above every id in the tree and
// fills nil collections. Loaded documents are normalized before use.
func (d *Document) Normalize() {
	if d.Tasks == nil {
		d.Tasks = []*Task{}
	}
	if hi := d.MaxID(); hi > d.TaskIDCounter {
		d.TaskIDCounter = hi
	}
	d.Walk(func(loc Location) bool {
		t := loc.Task
		if t.AssignedTo == nil {
			t.AssignedTo = []string{}
		}
		if t.Predecessor == nil {
			t.Predecessor = []int64{}
		}
		if t.Attachments == nil {
			t.Attachments = []Attachment{}
		}
		if t.Subtasks == nil {
			t.Subtasks = []*Task{}
		}
		if t.Status == "" {
			t.Status = StatusNotStarted
		}
		return true
	})
}

// NextID allocates a fresh task id above the watermark.
func (d *Document) NextID() int64 {
	if hi := d.MaxID(); hi > d.TaskIDCounter {
		d.TaskIDCounter = hi
	}
	d.TaskIDCounter++
	return d.TaskIDCounter
}

// observe raises the watermark to cover ids inserted from elsewhere, so a
// later NextID never collides with a remotely allocated id.
func (d *Document) observe(t *Task) {
	var walk func(*Task)
	walk = func(n *Task) {
		if n.ID > d.TaskIDCounter {
			d.TaskIDCounter = n.ID
		}
		for _, s := range n.Subtasks {
			walk(s)
		}
	}
	walk(t)
}

func (d *Document) checkIDs(t *Task) error {
	var ids []int64
	var collect func(*Task)
	collect = func(n *Task) {
		ids = append(ids, n.ID)
		for _, s := range n.Subtasks {
			collect(s)
		}
	}
	collect(t)
	for _, id := range ids {
		if _, err := d.Locate(id); err == nil {
			return fmt.Errorf("task %d: %w", id, ErrDuplicateID)
		}
	}
	return nil
}

// AddTask appends a root task.
func (d *Document) AddTask(t *Task) error {
	if t.Height() > MaxLevels {
		return ErrMaxDepth
	}
	if err := d.checkIDs(t); err != nil {
		return err
	}
	d.Tasks = append(d.Tasks, t)
	d.observe(t)
	return nil
}

// AddSubtask appends t to the children of parentID.
func (d *Document) AddSubtask(parentID int64, t *Task) error {
	loc, err := d.Locate(parentID)
	if err != nil {
		return err
	}
	if loc.Depth+1+t.Height() > MaxLevels {
		return fmt.Errorf("task %d at level %d: %w", parentID, loc.Depth+1, ErrMaxDepth)
	}
	if err := d.checkIDs(t); err != nil {
		return err
	}
	loc.Task.Subtasks = append(loc.Task.Subtasks, t)
	d.observe(t)
	return nil
}

// Delete removes a task and its subtree, then strips every removed id from
// all remaining predecessor lists. It returns the removed task.
func (d *Document) Delete(id int64) (*Task, error) {
	loc, err := d.Locate(id)
	if err != nil {
		return nil, err
	}
	sibs := loc.siblings(d)
	*sibs = slices.Delete(*sibs, loc.Index, loc.Index+1)

	removed := map[int64]struct{}{}
	var collect func(*Task)
	collect = func(n *Task) {
		removed[n.ID] = struct{}{}
		for _, s := range n.Subtasks {
			collect(s)
		}
	}
	collect(loc.Task)

	d.Walk(func(l Location) bool {
		l.Task.Predecessor = slices.DeleteFunc(l.Task.Predecessor, func(p int64) bool {
			_, gone := removed[p]
			return gone
		})
		return true
	})
	return loc.Task, nil
}

// DeleteChild removes taskID from the children of parentID.
func (d *Document) DeleteChild(parentID, taskID int64) (*Task, error) {
	loc, err := d.Locate(taskID)
	if err != nil {
		return nil, err
	}
	if loc.Parent == nil || loc.Parent.ID != parentID {
		return nil, fmt.Errorf("task %d under %d: %w", taskID, parentID, ErrWrongParent)
	}
	return d.Delete(taskID)
}

// Direction of a sibling swap.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// ParseDirection validates a reorder direction.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionUp, DirectionDown:
		return Direction(s), nil
	}
	return "", fmt.Errorf("invalid direction %q: expected up or down", s)
}

// Move swaps a task with its adjacent sibling. Both peers must hold the same
// sibling order for a propagated move to land on the same pair.
func (d *Document) Move(id int64, dir Direction) error {
	loc, err := d.Locate(id)
	if err != nil {
		return err
	}
	sibs := *loc.siblings(d)
	other := loc.Index - 1
	if dir == DirectionDown {
		other = loc.Index + 1
	}
	if other < 0 || other >= len(sibs) {
		return fmt.Errorf("task %d %s: %w", id, dir, ErrNoSibling)
	}
	sibs[loc.Index], sibs[other] = sibs[other], sibs[loc.Index]
	return nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := &Document{
		Tasks:         make([]*Task, len(d.Tasks)),
		TaskIDCounter: d.TaskIDCounter,
	}
	for i, t := range d.Tasks {
		c.Tasks[i] = t.Clone()
	}
	return c
}

// Count returns the number of tasks in the document.
func (d *Document) Count() int {
	n := 0
	d.Walk(func(Location) bool { n++; return true })
	return n
}
