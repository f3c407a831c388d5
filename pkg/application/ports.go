package application

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
)

// Transport delivers a committed patch to the relay. Implementations fall back
// to a one-shot request when the live channel is down.
type Transport interface {
	Send(ctx context.Context, p patch.Patch) error
}

// View is the rendering side of a session. Targets are FieldTarget strings in
// tree mode and cell keys in grid mode.
type View interface {
	// HasFocus reports whether the user is editing target right now.
	HasFocus(target string) bool
	// Render redraws one target, highlighting it briefly when flash is set.
	Render(target string, flash bool)
	// RenderAll redraws everything after a reload or structural change.
	RenderAll()
}

// FieldTarget names a task field as a view target.
func FieldTarget(taskID int64, f tree.Field) string {
	return strconv.FormatInt(taskID, 10) + "/" + string(f)
}

// CellTarget names a grid cell as a view target.
func CellTarget(k grid.CellKey) string {
	return k.String()
}

type nopView struct{}

func (nopView) HasFocus(string) bool { return false }
func (nopView) Render(string, bool)  {}
func (nopView) RenderAll()           {}

// NoticeLevel grades a user notification.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeWarning
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeWarning:
		return "warning"
	case NoticeError:
		return "error"
	default:
		return "info"
	}
}

// Notifier shows short, non-blocking messages to the user.
type Notifier interface {
	Notify(level NoticeLevel, message string)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(level NoticeLevel, message string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch level {
	case NoticeError:
		logger.Error(message)
	case NoticeWarning:
		logger.Warn(message)
	default:
		logger.Info(message)
	}
}
