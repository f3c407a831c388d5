// Package tree holds the canonical hierarchical project document: tasks with
// recursively nested subtasks, bounded to MaxLevels levels.
package tree

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxLevels is the number of levels a document may have, counting root tasks.
const MaxLevels = 4

// DateLayout is the calendar date form used for start and end dates.
const DateLayout = "2006-01-02"

type Status string

const (
	StatusNotStarted Status = "Not Started"
	StatusInProgress Status = "In Progress"
	StatusCompleted  Status = "Completed"
	StatusOnHold     Status = "On Hold"
	StatusCancelled  Status = "Cancelled"
)

// AllStatuses returns every valid status in display order.
func AllStatuses() []Status {
	return []Status{
		StatusNotStarted,
		StatusInProgress,
		StatusCompleted,
		StatusOnHold,
		StatusCancelled,
	}
}

// IsValid returns true if the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusOnHold, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus parses a status, ignoring case and surrounding whitespace.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimSpace(s)
	for _, st := range AllStatuses() {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid task status: %q", s)
}

// UnmarshalJSON accepts an empty string as Not Started.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	if str == "" {
		*s = StatusNotStarted
		return nil
	}
	st, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Attachment is the metadata of a file stored by the file storage collaborator.
type Attachment struct {
	Name        string    `json:"name"`
	StoredName  string    `json:"storedName"`
	Size        int64     `json:"size,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	UploadedAt  time.Time `json:"uploadedAt,omitempty"`
}

// Task is one node of the plan.
type Task struct {
	ID              int64        `json:"id"`
	Name            string       `json:"name"`
	StartDate       string       `json:"startDate,omitempty"`
	EndDate         string       `json:"endDate,omitempty"`
	PercentComplete int          `json:"percentComplete"`
	Status          Status       `json:"status"`
	AssignedTo      []string     `json:"assignedTo"`
	Cost            float64      `json:"cost"`
	Flagged         bool         `json:"flagged"`
	Predecessor     []int64      `json:"predecessor"`
	Description     string       `json:"description"`
	Attachments     []Attachment `json:"attachments"`
	Subtasks        []*Task      `json:"subtasks"`
}

// NewTask returns a task with the default status and empty collections.
func NewTask(id int64, name string) *Task {
	return &Task{
		ID:          id,
		Name:        name,
		Status:      StatusNotStarted,
		AssignedTo:  []string{},
		Predecessor: []int64{},
		Attachments: []Attachment{},
		Subtasks:    []*Task{},
	}
}

// IsPending reports whether the task has a blank name. Pending tasks are
// hidden from the row projection and cannot be predecessors.
func (t *Task) IsPending() bool {
	return strings.TrimSpace(t.Name) == ""
}

// HasChildren reports whether the task carries derived fields.
func (t *Task) HasChildren() bool {
	return len(t.Subtasks) > 0
}

// Clone returns a deep copy of the task and its subtree.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.AssignedTo = append([]string{}, t.AssignedTo...)
	c.Predecessor = append([]int64{}, t.Predecessor...)
	c.Attachments = append([]Attachment{}, t.Attachments...)
	c.Subtasks = make([]*Task, len(t.Subtasks))
	for i, sub := range t.Subtasks {
		c.Subtasks[i] = sub.Clone()
	}
	return &c
}

// Height returns the number of levels of the subtree rooted at t.
func (t *Task) Height() int {
	h := 0
	for _, sub := range t.Subtasks {
		if sh := sub.Height(); sh > h {
			h = sh
		}
	}
	return h + 1
}

// ParseDate validates an ISO calendar date. The empty string is allowed and
// means "no date".
func ParseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return d.Format(DateLayout), nil
}
