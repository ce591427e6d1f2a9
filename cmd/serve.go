package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newServeCmd creates the 'serve' subcommand that exposes the HTTP trigger.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP run trigger",
		Long: `Listens on server.port and starts a run for every POST /v1/runs.
SIGINT or SIGTERM drains in-flight requests and exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app App, _ *state) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return app.Serve(ctx)
			})
		},
	}
}
