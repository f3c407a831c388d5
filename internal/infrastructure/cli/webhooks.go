package cli

import (
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/webhook"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/spf13/cobra"
)

var (
	webhooksJSON    bool
	webhooksProject string
)

var webhooksCmd = &cobra.Command{
	Use:   "webhooks",
	Short: "List configured webhooks and failed deliveries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace(cmd, wiring.Options{Local: true})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		failed, err := webhook.NewDeadLetterStore(ws.DeadLetterPath()).Read(webhooksProject)
		if err != nil {
			return fmt.Errorf("failed to read dead letters: %w", err)
		}
		if webhooksJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(failed)
		}
		out := cmd.OutOrStdout()
		if len(ws.Config.Webhooks) == 0 {
			_, _ = fmt.Fprintln(out, "No webhooks configured.")
		}
		for _, h := range ws.Config.Webhooks {
			_, _ = fmt.Fprintf(out, "%s  %s\n", h.Name, h.URL)
		}
		if len(failed) > 0 {
			_, _ = fmt.Fprintf(out, "\nFailed deliveries (%d):\n", len(failed))
			for _, dl := range failed {
				_, _ = fmt.Fprintf(out, "  %s  %s  %s/%s  %s\n", dl.Timestamp.Format("2006-01-02 15:04:05"), dl.WebhookName, dl.Project, dl.Op, dl.Error)
			}
		}
		return nil
	},
}

func init() {
	webhooksCmd.Flags().BoolVar(&webhooksJSON, "json", false, "Print failed deliveries as JSON")
	webhooksCmd.Flags().StringVar(&webhooksProject, "project", "", "Only show failed deliveries for this project")
	RootCmd.AddCommand(webhooksCmd)
}
