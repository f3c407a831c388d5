package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/config"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/application"
	"github.com/spf13/cobra"
)

func getProjectRoot() (string, error) {
	if projectPath != "" {
		abs, err := filepath.Abs(projectPath)
		if err != nil {
			return "", fmt.Errorf("invalid project path %q: %w", projectPath, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("project path %q: %w", abs, err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("project path %q is not a directory", abs)
		}
		return abs, nil
	}
	return os.Getwd()
}

func loadConfig(root string) (*config.Config, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, NewCLIError("invalid configuration", "Check "+config.Path(root), err)
	}
	return cfg, nil
}

// loadWorkspace opens the workspace of the current directory, or --dir.
func loadWorkspace(cmd *cobra.Command, opts wiring.Options) (*wiring.Workspace, error) {
	root, err := getProjectRoot()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	ws, err := wiring.OpenWorkspace(cmd.Context(), root, cfg, slog.Default(), opts)
	if err != nil {
		return nil, MapError(fmt.Errorf("failed to open workspace: %w", err))
	}
	return ws, nil
}

// withSession runs fn on a tree session of project and closes it, sending
// pending patches and saving, even when fn fails.
func withSession(cmd *cobra.Command, project string, fn func(ctx context.Context, s *application.Session) error) (err error) {
	ws, err := loadWorkspace(cmd, wiring.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = ws.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, closeFn, err := ws.OpenSession(ctx, wiring.SessionOptions{
		Project:  project,
		Mode:     application.ModeTree,
		Notifier: application.LogNotifier{Logger: slog.Default()},
	})
	if err != nil {
		return MapError(err)
	}
	defer func() {
		if cerr := closeFn(ctx); cerr != nil && err == nil {
			err = MapError(cerr)
		}
	}()
	return MapError(fn(ctx, s))
}
