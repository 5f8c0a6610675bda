package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/engine"
	"github.com/anibalchinley/extractor-proveedores/internal/observability"
)

// runCmd performs one extraction and exits. The exit status reflects the
// run outcome.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one extraction run and exit",
	Long: `Opens a browser session against the supplier portal, harvests the claim
tables of both platforms, persists the batch to Postgres and syncs it to
Notion. Progress is logged as it happens; the final summary is printed as
JSON on stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.GetLogger()
		defer observability.Sync()

		components, err := buildComponents(ctx, config.Get(), logger)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		summary, err := components.Engine.Run(ctx, logProgress(logger))
		if summary != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(summary); encErr != nil {
				logger.Warn("Failed to print run summary", zap.Error(encErr))
			}
		}
		if err != nil {
			return fmt.Errorf("extraction run failed: %w", err)
		}
		return nil
	},
}

// logProgress adapts the progress stream onto the logger.
func logProgress(logger *zap.Logger) engine.Sink {
	return func(p engine.Progress) {
		fields := []zap.Field{zap.String("stage", p.Stage)}
		if p.Company != "" {
			fields = append(fields, zap.String("company", p.Company))
		}
		logger.Info(p.Message, fields...)
	}
}
