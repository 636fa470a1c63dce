package main

import (
	"github.com/spf13/cobra"

	"datashare/internal/server/config"
	"datashare/internal/server/service"
)

func newSweepCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired files and orphaned blobs once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			b, err := openBackend(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer b.close()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}

			sweeper := service.NewSweeper(newEngine(cfg, b, store), cfg.CleanupInterval, cfg.OrphanGracePeriod)
			res := sweeper.RunOnce(ctx)

			if *jsonOutput {
				return writeJSON(map[string]any{
					"expired":           res.Expired,
					"purged":            res.Purged,
					"failed":            res.Failed,
					"orphans_reclaimed": res.OrphansReclaimed,
				})
			}
			return writePlain("expired: %d, purged: %d, failed: %d, orphans reclaimed: %d\n",
				res.Expired, res.Purged, res.Failed, res.OrphansReclaimed)
		},
	}
}
