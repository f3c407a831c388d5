package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/config"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/watch"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/storage"
	"github.com/spf13/cobra"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <project>",
	Short: "Print a project again whenever it changes",
	Long: `Print a project, then print it again after every change. Local
workspaces watch the project files; with server.url set the relay room is
followed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		project := args[0]
		ws, err := loadWorkspace(cmd, wiring.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var mu sync.Mutex
		reprint := func() {
			mu.Lock()
			defer mu.Unlock()
			doc, stored, err := loadPlan(cmd, ws, project)
			if err != nil {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "reload failed: %v\n", err)
				return
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", time.Now().Format("15:04:05"))
			renderPlan(cmd.OutOrStdout(), project, doc, stored, contactsOf(ws))
		}
		if _, _, err := loadPlan(cmd, ws, project); err != nil {
			return err
		}
		reprint()

		if ws.Remote() {
			return followRoom(ctx, ws, project, reprint)
		}
		if d := ws.Config.Storage.Driver; d != "" && d != config.DriverFile {
			return NewCLIError("watch needs the file storage driver or a relay", "Set storage.driver to file or server.url", nil)
		}
		dir := filepath.Join(ws.Repo.Dir(), storage.ProjectsDir)
		w, err := watch.NewProjectWatcher(dir, watchDebounce, []string{project}, func([]string) { reprint() })
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		if err := w.WithLogger(ws.Logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// followRoom re-prints after each relayed patch, batching bursts the same
// way the file watcher does.
func followRoom(ctx context.Context, ws *wiring.Workspace, project string, reprint func()) error {
	deb := watch.NewDebouncer(watchDebounce, func([]string) { reprint() })
	defer deb.Stop()

	err := ws.Client.Join(ctx, project, func(_ context.Context, p patch.Patch) error {
		deb.Trigger(p.Project)
		return nil
	})
	if err != nil {
		return MapError(fmt.Errorf("failed to join %s: %w", project, err))
	}
	ws.Client.OnReconnect(func(context.Context) { deb.Trigger(project) })
	if err := ws.Client.Connect(ctx); err != nil {
		ws.Logger.Warn("relay unreachable, retrying in the background", "error", err)
	}
	<-ctx.Done()
	_ = ws.Client.Leave(context.Background(), project)
	return nil
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 200*time.Millisecond, "Wait this long after a change before printing")
	RootCmd.AddCommand(watchCmd)
}
