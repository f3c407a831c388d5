package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/spf13/cobra"
)

var scriptKeepGoing bool

var scriptCmd = &cobra.Command{
	Use:   "script <project> [file]",
	Short: "Run a list of edits in one session",
	Long: `Run edits read from a file, or stdin, in a single session so that
undo and redo work across them. One command per line; blank lines and
lines starting with # are skipped.

  add <name>
  sub <parent-id> <name>
  set <task-id> <field> <value>
  cell <row-col> <text>
  comment <row-col> <text>
  rm <task-id>
  move <task-id> up|down
  undo
  redo
  save
  show`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if len(args) == 2 && args[1] != "-" {
			// #nosec G304 -- The user names the script to run
			f, err := os.Open(args[1])
			if err != nil {
				return NewCLIError("cannot read script", "Check the path", err)
			}
			defer func() { _ = f.Close() }()
			in = f
		}
		return withSession(cmd, args[0], func(ctx context.Context, s *application.Session) error {
			return runScript(ctx, cmd.OutOrStdout(), s, in, scriptKeepGoing)
		})
	},
}

func runScript(ctx context.Context, out io.Writer, s *application.Session, in io.Reader, keepGoing bool) error {
	sc := bufio.NewScanner(in)
	line := 0
	failed := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := runScriptLine(ctx, out, s, text); err != nil {
			if !keepGoing {
				return fmt.Errorf("line %d: %w", line, err)
			}
			failed++
			_, _ = fmt.Fprintf(out, "line %d: %v\n", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}
	if failed > 0 {
		return NewCLIError(fmt.Sprintf("%d line(s) failed", failed), "", nil)
	}
	return nil
}

// splitArgs splits off the first n words and returns the rest of the line
// as the final element.
func splitArgs(text string, n int) []string {
	var out []string
	for i := 0; i < n; i++ {
		text = strings.TrimLeft(text, " \t")
		end := strings.IndexAny(text, " \t")
		if end < 0 {
			if text != "" {
				out = append(out, text)
			}
			return out
		}
		out = append(out, text[:end])
		text = text[end:]
	}
	return append(out, strings.TrimLeft(text, " \t"))
}

func runScriptLine(ctx context.Context, out io.Writer, s *application.Session, text string) error {
	verb, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)
	switch verb {
	case "add":
		id, err := s.AddTask(rest)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "added %d\n", id)
	case "sub":
		a := splitArgs(rest, 1)
		if len(a) < 2 {
			return fmt.Errorf("usage: sub <parent-id> <name>")
		}
		parent, err := parseTaskID(a[0])
		if err != nil {
			return err
		}
		id, err := s.AddSubtask(parent, a[1])
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "added %d\n", id)
	case "set":
		a := splitArgs(rest, 2)
		if len(a) < 3 {
			return fmt.Errorf("usage: set <task-id> <field> <value>")
		}
		id, err := parseTaskID(a[0])
		if err != nil {
			return err
		}
		f, err := tree.ParseField(a[1])
		if err != nil {
			return err
		}
		value, err := parseFieldValue(f, a[2], s.Labels())
		if err != nil {
			return err
		}
		return s.UpdateField(id, f, value)
	case "cell", "comment":
		a := splitArgs(rest, 1)
		if len(a) < 1 {
			return fmt.Errorf("usage: %s <row-col> <text>", verb)
		}
		key, err := parseCellKey(a[0])
		if err != nil {
			return err
		}
		var arg string
		if len(a) > 1 {
			arg = a[1]
		}
		if verb == "cell" {
			return s.EditCell(key, arg)
		}
		return s.UpdateComment(key, arg)
	case "rm":
		id, err := parseTaskID(rest)
		if err != nil {
			return err
		}
		return s.DeleteTask(id)
	case "move":
		a := strings.Fields(rest)
		if len(a) != 2 {
			return fmt.Errorf("usage: move <task-id> up|down")
		}
		id, err := parseTaskID(a[0])
		if err != nil {
			return err
		}
		dir, err := tree.ParseDirection(a[1])
		if err != nil {
			return err
		}
		return s.Move(id, dir)
	case "undo":
		s.Flush()
		return s.Undo(ctx)
	case "redo":
		s.Flush()
		return s.Redo(ctx)
	case "save":
		s.Flush()
		return s.Save(ctx)
	case "show":
		renderPlan(out, s.Project(), s.Document(), s.Grid(), nil)
	default:
		return fmt.Errorf("unknown command %q", verb)
	}
	return nil
}

func init() {
	scriptCmd.Flags().BoolVarP(&scriptKeepGoing, "keep-going", "k", false, "Continue after a failing line")
	RootCmd.AddCommand(scriptCmd)
}
