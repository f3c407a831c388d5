package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/config"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init <project>",
	Short: "Create a project in the workspace",
	Long: `Create an empty project. The first init in a directory also writes
.plangrid/config.yaml with the default settings.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := getProjectRoot()
		if err != nil {
			return err
		}
		if _, err := os.Stat(config.Path(root)); errors.Is(err, os.ErrNotExist) {
			if err := config.Save(root, config.Default()); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
		}

		ws, err := loadWorkspace(cmd, wiring.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		created, err := ws.CreateProject(cmd.Context(), args[0])
		if err != nil {
			return MapError(fmt.Errorf("failed to initialize project: %w", err))
		}
		if !created {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Project %s already exists\n", args[0])
			return nil
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Successfully initialized project: %s\n", args[0])
		return nil
	},
}

func init() {
	RootCmd.AddCommand(initCmd)
}
