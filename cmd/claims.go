package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/observability"
	"github.com/anibalchinley/extractor-proveedores/internal/store"
)

func newClaimsCmd() *cobra.Command {
	var runID string

	claimsCmd := &cobra.Command{
		Use:   "claims",
		Short: "Print the claims a run persisted to Postgres",
		Long:  `Reads the stored claim batch for a given run ID and prints it as indented JSON, with field values exactly as the portal rendered them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(runID)
			if err != nil {
				return fmt.Errorf("invalid run-id %q: %w", runID, err)
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()

			pool, err := pgxpool.New(ctx, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer pool.Close()

			st, err := store.New(ctx, pool, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize store: %w", err)
			}

			claims, err := st.ClaimsByRun(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to load claims for run %s: %w", id, err)
			}
			if len(claims) == 0 {
				return fmt.Errorf("no claims stored for run %s", id)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(claims)
		},
	}

	claimsCmd.Flags().StringVar(&runID, "run-id", "", "ID of the extraction run to print")
	_ = claimsCmd.MarkFlagRequired("run-id")
	return claimsCmd
}
