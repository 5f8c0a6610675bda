package cmd

import (
	"github.com/spf13/cobra"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/observability"
	"github.com/anibalchinley/extractor-proveedores/internal/server"
)

// serveCmd hosts the HTTP trigger surface until the process is signaled.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the HTTP API that triggers extraction runs",
	Long: `Starts the HTTP server: POST /runs triggers an extraction and streams its
progress, GET /runs/{id}/claims returns a stored batch, plus /healthz and
Prometheus /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.GetLogger()
		defer observability.Sync()

		components, err := buildComponents(ctx, config.Get(), logger)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		srv := server.New(config.Get().Server, logger, components.Engine, components.Store)
		return srv.Start(ctx)
	},
}
