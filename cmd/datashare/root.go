package main

import (
	"github.com/spf13/cobra"

	"datashare/internal/server/config"
)

func newRootCmd() *cobra.Command {
	var (
		configPath string
		jsonOutput bool
	)
	cfg := &config.Config{}

	cmd := &cobra.Command{
		Use:           "datashare",
		Short:         "DataShare stores files and hands out expiring share links",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			*cfg = *loaded
			return configureDefaultLogger(cfg.LogLevel, cfg.LogFormat)
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file (default $CONFIG_FILE)")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")

	cmd.AddCommand(
		newServeCmd(cfg),
		newMigrateCmd(cfg),
		newSweepCmd(cfg, &jsonOutput),
		newUserCmd(cfg, &jsonOutput),
		newTokenCmd(cfg, &jsonOutput),
	)

	return cmd
}
