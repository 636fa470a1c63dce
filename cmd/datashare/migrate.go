package main

import (
	"github.com/spf13/cobra"

	"datashare/internal/server/config"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := openBackend(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			b.close()
			return writePlain("migrations applied (%s)\n", cfg.DatabaseDriver)
		},
	}
}
