// Package patch defines the mutation records exchanged between sessions that
// edit the same project, and their JSON wire form.
package patch

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

var (
	// ErrUnknownOp indicates a patch whose op is not one of the known kinds.
	ErrUnknownOp = errors.New("unknown patch op")

	// ErrInvalidPatch indicates a patch that fails wire validation.
	ErrInvalidPatch = errors.New("invalid patch")
)

// Op is the kind of a patch.
type Op string

const (
	OpUpdate         Op = "update"
	OpUpdateCell     Op = "updateCell"
	OpAddTask        Op = "addTask"
	OpDeleteTask     Op = "deleteTask"
	OpAddSubtask     Op = "addSubtask"
	OpDeleteSubtask  Op = "deleteSubtask"
	OpReorderSubtask Op = "reorderSubtask"
	OpUpdateComment  Op = "updateComment"
)

// AllOps returns every op in wire order.
func AllOps() []Op {
	return []Op{
		OpUpdate, OpUpdateCell, OpAddTask, OpDeleteTask,
		OpAddSubtask, OpDeleteSubtask, OpReorderSubtask, OpUpdateComment,
	}
}

// IsStructural reports whether the op changes the shape of the tree and so
// shifts grid rows.
func (o Op) IsStructural() bool {
	switch o {
	case OpAddTask, OpDeleteTask, OpAddSubtask, OpDeleteSubtask, OpReorderSubtask:
		return true
	default:
		return false
	}
}

// Payload is the op-specific part of a patch. The set of implementations is
// closed; consumers switch over them exhaustively.
type Payload interface {
	Op() Op
	isPayload()
}

// Update sets one task field.
type Update struct {
	TaskID int64      `json:"taskId"`
	Field  tree.Field `json:"field"`
	Value  any        `json:"value"`
}

// UpdateCell replaces the content of one grid cell.
type UpdateCell struct {
	Key  grid.CellKey `json:"key"`
	Cell grid.Cell    `json:"cell"`
}

// AddTask appends a top-level task.
type AddTask struct {
	Task *tree.Task `json:"task"`
}

// DeleteTask removes a task, wherever it is, with its subtree.
type DeleteTask struct {
	TaskID int64 `json:"taskId"`
}

// AddSubtask appends a child to a task.
type AddSubtask struct {
	ParentID int64      `json:"parentId"`
	Task     *tree.Task `json:"task"`
}

// DeleteSubtask removes a child of a task.
type DeleteSubtask struct {
	ParentID int64 `json:"parentId"`
	TaskID   int64 `json:"taskId"`
}

// ReorderSubtask swaps a task with its neighbour. ParentID is 0 for top-level
// tasks.
type ReorderSubtask struct {
	ParentID  int64          `json:"parentId"`
	TaskID    int64          `json:"taskId"`
	Direction tree.Direction `json:"direction"`
}

// UpdateComment replaces the comment of a grid cell.
type UpdateComment struct {
	Key     grid.CellKey `json:"key"`
	Comment string       `json:"comment"`
}

func (Update) Op() Op         { return OpUpdate }
func (UpdateCell) Op() Op     { return OpUpdateCell }
func (AddTask) Op() Op        { return OpAddTask }
func (DeleteTask) Op() Op     { return OpDeleteTask }
func (AddSubtask) Op() Op     { return OpAddSubtask }
func (DeleteSubtask) Op() Op  { return OpDeleteSubtask }
func (ReorderSubtask) Op() Op { return OpReorderSubtask }
func (UpdateComment) Op() Op  { return OpUpdateComment }

func (Update) isPayload()         {}
func (UpdateCell) isPayload()     {}
func (AddTask) isPayload()        {}
func (DeleteTask) isPayload()     {}
func (AddSubtask) isPayload()     {}
func (DeleteSubtask) isPayload()  {}
func (ReorderSubtask) isPayload() {}
func (UpdateComment) isPayload()  {}

// Stamp is a per-target version. Seq is the sender's version after the edit,
// Base the version the sender had last seen before it.
type Stamp struct {
	Seq  uint64 `json:"seq"`
	Base uint64 `json:"base"`
}

// Meta identifies where a patch comes from.
type Meta struct {
	Project  string `json:"project"`
	User     string `json:"user,omitempty"`
	ClientID string `json:"clientId"`
	Stamp    *Stamp `json:"stamp,omitempty"`
}

// Patch is one committed edit.
type Patch struct {
	Meta
	Payload Payload
}

// New builds a patch from its parts.
func New(meta Meta, p Payload) Patch {
	return Patch{Meta: meta, Payload: p}
}

// Op returns the kind of the payload.
func (p Patch) Op() Op {
	if p.Payload == nil {
		return ""
	}
	return p.Payload.Op()
}

// Target names what a patch writes to: "<taskId>/<field>" for updates, the
// cell key for cell edits, "comment:<key>" for comments and the task id for
// structural ops. Pending edits with the same target coalesce and version
// stamps are tracked per target.
func (p Patch) Target() string {
	switch v := p.Payload.(type) {
	case Update:
		return strconv.FormatInt(v.TaskID, 10) + "/" + string(v.Field)
	case UpdateCell:
		return v.Key.String()
	case UpdateComment:
		return "comment:" + v.Key.String()
	case AddTask:
		return "task:" + taskID(v.Task)
	case AddSubtask:
		return "task:" + taskID(v.Task)
	case DeleteTask:
		return "task:" + strconv.FormatInt(v.TaskID, 10)
	case DeleteSubtask:
		return "task:" + strconv.FormatInt(v.TaskID, 10)
	case ReorderSubtask:
		return "task:" + strconv.FormatInt(v.TaskID, 10)
	default:
		return ""
	}
}

func taskID(t *tree.Task) string {
	if t == nil {
		return "?"
	}
	return strconv.FormatInt(t.ID, 10)
}

func (p Patch) String() string {
	return fmt.Sprintf("%s %s from %s", p.Op(), p.Target(), p.ClientID)
}

// NewClientID returns a per-session token made of the current time and a
// random suffix.
func NewClientID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + uuid.NewString()[:8]
}
