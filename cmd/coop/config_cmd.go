package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/coop/internal/config"
)

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate coop.toml",
	}
	cmd.AddCommand(buildConfigCheckCmd())
	return cmd
}

func buildConfigCheckCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate coop.toml without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config OK: agent %q, %d user(s), %d cron entr(y/ies)\n",
				cfg.Agent.ID, len(cfg.Users), len(cfg.Cron))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to coop.toml")
	return cmd
}
