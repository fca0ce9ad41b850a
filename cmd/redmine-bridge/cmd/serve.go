package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/redmine-bridge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the create-issue action over HTTP",
	Long: `Start an HTTP server exposing the create-issue action.

  POST /api/v1/connections/{id-or-name}/issues
  GET  /healthz

When server.token is configured (or REDMINE_BRIDGE_SERVER_TOKEN is set),
callers must send "Authorization: Bearer <token>".

Examples:
  redmine-bridge serve
  redmine-bridge serve --addr 0.0.0.0:8087`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default: server.addr from config)")
}

func runServe(_ *cobra.Command, _ []string) error {
	e, err := openEnv(os.Stderr)
	if err != nil {
		return err
	}
	defer e.Close()

	addr := serveAddr
	if addr == "" {
		addr = e.cfg.Server.Addr
	}
	if e.cfg.Server.Token == "" {
		e.logger.Warn("server.token is not set; the API accepts unauthenticated requests")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(e.app,
		server.WithLogger(e.logger.WithComponent("server")),
		server.WithToken(e.cfg.Server.Token),
	)
	return srv.ListenAndServe(ctx, addr)
}
