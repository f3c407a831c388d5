package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/domain"
	"github.com/felixgeelhaar/plangrid/pkg/domain/grid"
	"github.com/felixgeelhaar/plangrid/pkg/domain/tree"
	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show <project>",
	Short: "Print a project as a grid",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace(cmd, wiring.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		doc, stored, err := loadPlan(cmd, ws, args[0])
		if err != nil {
			return err
		}
		if showJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(doc)
		}
		renderPlan(cmd.OutOrStdout(), args[0], doc, stored, contactsOf(ws))
		return nil
	},
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the projects of the workspace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace(cmd, wiring.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		names, err := ws.Store.ListProjects(cmd.Context())
		if err != nil {
			return MapError(fmt.Errorf("failed to list projects: %w", err))
		}
		if showJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(names)
		}
		if len(names) == 0 {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No projects. Create one with 'plangrid init <project>'.")
			return nil
		}
		for _, n := range names {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), n)
		}
		return nil
	},
}

// loadPlan reads a project's document and its stored grid, if any.
func loadPlan(cmd *cobra.Command, ws *wiring.Workspace, project string) (*tree.Document, *grid.Grid, error) {
	doc, err := ws.Store.Load(cmd.Context(), project)
	if err != nil {
		return nil, nil, MapError(fmt.Errorf("failed to load %s: %w", project, err))
	}
	stored, err := ws.Store.LoadGrid(cmd.Context(), project)
	if err != nil && !errors.Is(err, domain.ErrProjectNotFound) {
		return nil, nil, MapError(fmt.Errorf("failed to load grid of %s: %w", project, err))
	}
	return doc, stored, nil
}

func contactsOf(ws *wiring.Workspace) domain.Directory {
	if ws.Contacts == nil {
		return nil
	}
	return ws.Contacts
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the document as JSON")
	projectsCmd.Flags().BoolVar(&showJSON, "json", false, "Print project names as JSON")
	RootCmd.AddCommand(showCmd, projectsCmd)
}
