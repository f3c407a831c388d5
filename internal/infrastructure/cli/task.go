package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/projection"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/spf13/cobra"
)

var addParent int64

var addCmd = &cobra.Command{
	Use:   "add <project> <name>",
	Short: "Add a task, or a subtask with --parent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, args[0], func(ctx context.Context, s *application.Session) error {
			var id int64
			var err error
			if addParent != 0 {
				id, err = s.AddSubtask(addParent, args[1])
			} else {
				id, err = s.AddTask(args[1])
			}
			if err != nil {
				return fmt.Errorf("failed to add task: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added task %d\n", id)
			return nil
		})
	},
}

var setCmd = &cobra.Command{
	Use:   "set <project> <task-id> <field> <value>",
	Short: "Set a task field",
	Long: `Set one field of a task. Fields: name, startDate, endDate,
percentComplete, status, assignedTo, cost, flagged, predecessor, description.

Dates are YYYY-MM-DD. assignedTo takes comma-separated contact ids and
predecessor takes comma-separated row labels such as "1.2". Parent tasks
get percentComplete, cost and endDate from their subtasks.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		f, err := tree.ParseField(args[2])
		if err != nil {
			return NewCLIError(fmt.Sprintf("unknown field %q", args[2]), "Run 'plangrid set --help' for the field list", err)
		}
		text := strings.Join(args[3:], " ")
		return withSession(cmd, args[0], func(ctx context.Context, s *application.Session) error {
			value, err := parseFieldValue(f, text, s.Labels())
			if err != nil {
				return err
			}
			if err := s.UpdateField(id, f, value); err != nil {
				return fmt.Errorf("failed to set %s of task %d: %w", f, id, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %d updated\n", id)
			return nil
		})
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <project> <task-id>",
	Aliases: []string{"delete"},
	Short:   "Delete a task and its subtasks",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		return withSession(cmd, args[0], func(ctx context.Context, s *application.Session) error {
			if err := s.DeleteTask(id); err != nil {
				return fmt.Errorf("failed to delete task %d: %w", id, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %d\n", id)
			return nil
		})
	},
}

var moveCmd = &cobra.Command{
	Use:   "move <project> <task-id> <up|down>",
	Short: "Swap a task with its sibling",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		dir, err := tree.ParseDirection(args[2])
		if err != nil {
			return NewCLIError("direction must be up or down", "", err)
		}
		return withSession(cmd, args[0], func(ctx context.Context, s *application.Session) error {
			if err := s.Move(id, dir); err != nil {
				return fmt.Errorf("failed to move task %d: %w", id, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Moved task %d %s\n", id, dir)
			return nil
		})
	},
}

var cellCmd = &cobra.Command{
	Use:   "cell <project> <row-col> <text>",
	Short: "Type text into a grid cell",
	Long: `Type text into a grid cell as if editing the grid. Cells are
addressed "<row>-<col>" from 0; 'plangrid show' lists the columns.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseCellKey(args[1])
		if err != nil {
			return err
		}
		text := strings.Join(args[2:], " ")
		return withSession(cmd, args[0], func(ctx context.Context, s *application.Session) error {
			if err := s.EditCell(key, text); err != nil {
				return fmt.Errorf("failed to edit cell %s: %w", key, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cell %s updated\n", key)
			return nil
		})
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment <project> <row-col> [comment]",
	Short: "Set or clear the comment of a grid cell",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := parseCellKey(args[1])
		if err != nil {
			return err
		}
		comment := strings.Join(args[2:], " ")
		return withSession(cmd, args[0], func(ctx context.Context, s *application.Session) error {
			if err := s.UpdateComment(key, comment); err != nil {
				return fmt.Errorf("failed to comment on %s: %w", key, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Comment on %s saved\n", key)
			return nil
		})
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach <project> <task-id> <file>",
	Short: "Upload a file and attach it to a task",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		// #nosec G304 -- The user names the file to upload
		f, err := os.Open(args[2])
		if err != nil {
			return NewCLIError("cannot read file", "Check the path", err)
		}
		defer func() { _ = f.Close() }()
		return withSession(cmd, args[0], func(ctx context.Context, s *application.Session) error {
			att, err := s.AttachFile(ctx, id, filepath.Base(args[2]), f)
			if err != nil {
				return fmt.Errorf("failed to attach %s: %w", args[2], err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Attached %s as %s\n", att.Name, att.StoredName)
			return nil
		})
	},
}

var detachCmd = &cobra.Command{
	Use:   "detach <project> <task-id> <stored-name>",
	Short: "Remove an attachment and delete its file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[1])
		if err != nil {
			return err
		}
		return withSession(cmd, args[0], func(ctx context.Context, s *application.Session) error {
			if err := s.RemoveAttachment(ctx, id, args[2]); err != nil {
				return fmt.Errorf("failed to remove %s: %w", args[2], err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from task %d\n", args[2], id)
			return nil
		})
	},
}

var fetchOutput string

var fetchCmd = &cobra.Command{
	Use:   "fetch <stored-name>",
	Short: "Download an attachment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace(cmd, wiring.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		rc, err := ws.Files.Open(cmd.Context(), args[0])
		if err != nil {
			return MapError(fmt.Errorf("failed to open %s: %w", args[0], err))
		}
		defer func() { _ = rc.Close() }()

		var w io.Writer = cmd.OutOrStdout()
		if fetchOutput != "" {
			out, err := os.OpenFile(fetchOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", fetchOutput, err)
			}
			defer func() { _ = out.Close() }()
			w = out
		}
		if _, err := io.Copy(w, rc); err != nil {
			return fmt.Errorf("failed to download %s: %w", args[0], err)
		}
		return nil
	},
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, NewCLIError(fmt.Sprintf("invalid task id %q", s), "Run 'plangrid show <project>' to list task ids", err)
	}
	return id, nil
}

func parseCellKey(s string) (grid.CellKey, error) {
	key, err := grid.ParseCellKey(s)
	if err != nil {
		return grid.CellKey{}, NewCLIError(fmt.Sprintf("invalid cell %q", s), "Cells are written <row>-<col>, for example 0-5", err)
	}
	return key, nil
}

// parseFieldValue turns command-line text into a value for a task field.
// Grid fields reuse the grid's cell decoding.
func parseFieldValue(f tree.Field, text string, labels *projection.Labels) (any, error) {
	switch f {
	case tree.FieldDescription:
		return text, nil
	case tree.FieldFlagged:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return nil, NewCLIError("flagged must be true or false", "", err)
		}
		return b, nil
	case tree.FieldAttachments:
		return nil, NewCLIError("attachments cannot be set directly", "Use 'plangrid attach' and 'plangrid detach'", nil)
	}
	value, unresolved, err := grid.DecodeText(f, text, labels)
	if err != nil {
		var de *grid.DecodeError
		if errors.As(err, &de) {
			return nil, NewCLIError(de.Message, "", err)
		}
		return nil, err
	}
	if len(unresolved) > 0 {
		return nil, NewCLIError("unknown predecessor: "+strings.Join(unresolved, ", "), "Predecessors are row labels such as 1.2", nil)
	}
	return value, nil
}

func init() {
	addCmd.Flags().Int64Var(&addParent, "parent", 0, "Parent task id")
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "Write to a file instead of stdout")
	RootCmd.AddCommand(addCmd, setCmd, rmCmd, moveCmd, cellCmd, commentCmd, attachCmd, detachCmd, fetchCmd)
}
