// Package main provides the CLI entry point for Coop, a multi-channel
// autonomous agent runtime.
//
// # Basic Usage
//
// Start the agent against a terminal front-end:
//
//	coop run --config coop.toml
//
// Validate a config file without starting anything:
//
//	coop config check --config coop.toml
//
// Inspect structured memory:
//
//	coop memory search --config coop.toml "deploy pipeline"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coop",
		Short: "Coop: a multi-channel autonomous agent runtime",
	}
	cmd.AddCommand(buildRunCmd(), buildConfigCmd(), buildMemoryCmd())
	return cmd
}
