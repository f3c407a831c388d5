package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/plangrid/internal/infrastructure/wiring"
	"github.com/felixgeelhaar/plangrid/pkg/domain/patch"
	"github.com/felixgeelhaar/plangrid/pkg/infrastructure/relay"
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay server for this workspace",
	Long: `Run the relay server. Sessions of other machines point server.url at
it; every patch is stored before it is relayed to the project's room.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := loadWorkspace(cmd, wiring.Options{Local: true})
		if err != nil {
			return err
		}
		defer func() { _ = ws.Close() }()

		srv, err := relay.NewServer(ws.ServerConfig())
		if err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}
		if n := ws.Notifier(); n != nil {
			srv.Publisher().Subscribe(func(p patch.Patch) error {
				n.Notify(cmd.Context(), p)
				return nil
			})
			defer n.Wait()
		}
		addr := serveAddr
		if addr == "" {
			addr = ws.Config.Server.Addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Relay listening on %s\n", addr)
		if err := srv.Run(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("relay stopped: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: server.addr from config)")
	RootCmd.AddCommand(serveCmd)
}
