package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/coop/internal/config"
	"github.com/haasonsaas/coop/internal/memory"
	"github.com/haasonsaas/coop/internal/types"
)

func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect the structured memory store",
	}
	cmd.AddCommand(buildMemorySearchCmd())
	return cmd
}

func buildMemorySearchCmd() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search structured memory as the Owner trust level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := memory.Open(cfg.Memory.DBPath)
			if err != nil {
				return fmt.Errorf("open memory store: %w", err)
			}
			defer store.Close()

			results, err := store.Search(context.Background(), memory.Query{
				Text:  args[0],
				Limit: limit,
				Trust: types.TrustOwner,
			})
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matching observations")
				return nil
			}
			var b strings.Builder
			for _, r := range results {
				fmt.Fprintf(&b, "[%s/%s] %s (score %.3f)\n", r.Store, r.ObsType, r.Title, r.Score)
			}
			fmt.Fprint(cmd.OutOrStdout(), b.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to coop.toml")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	return cmd
}
