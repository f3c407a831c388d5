package cli

import (
	"fmt"
	"os"
	"strings"

	inframcp "github.com/felixgeelhaar/plangrid/internal/infrastructure/mcp"
	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/spf13/cobra"
)

var (
	mcpTransport string
	mcpAddr      string
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the plangrid MCP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Getenv("PLANGRID_SKIP_MCP_START") == "true" {
			return nil
		}
		ws, err := loadWorkspace(cmd, wiring.Options{})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		ctx := cmd.Context()
		server := inframcp.NewServer(ws)
		defer func() { _ = server.Close(ctx) }()

		switch strings.ToLower(mcpTransport) {
		case "stdio", "":
			return server.ServeStdio(ctx)
		case "http":
			return server.ServeHTTP(ctx, mcpAddr)
		default:
			return NewCLIError(fmt.Sprintf("unsupported transport: %s", mcpTransport), "Use stdio or http", nil)
		}
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpTransport, "transport", "stdio", "Transport to use (stdio, http)")
	mcpCmd.Flags().StringVar(&mcpAddr, "addr", ":8080", "Address for the http transport")
	RootCmd.AddCommand(mcpCmd)
}
