// Package main is the entrypoint for the memflow CLI: a desktop-activity
// memory engine that captures, deduplicates, indexes, and makes searchable
// a record of what the user was doing, backed by the pipeline in internal/.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/False-Maker/memflow/internal/config"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "memflow",
		Short: "A personal desktop-activity memory engine",
		Long: `memflow continuously samples your foreground window, extracts text,
deduplicates near-identical frames, and builds a searchable record of your
desktop activity -- plus an automation-proposal agent on top of that record.

Quick start:
  memflow serve    Run the capture/OCR/focus/retention pipeline
  memflow search   Search your activity history from the command line
  memflow status   See what memflow is tracking
  memflow doctor   Check if everything is working
  memflow agent    Propose, list, execute, or cancel automation proposals
  memflow mcp      Expose search to MCP-speaking tools over stdio`,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceUsage:      true,
	}

	root.AddCommand(versionCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(mcpCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(agentCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the memflow version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	}
}

// loadConfig is the shared config-loading helper every subcommand uses:
// config.json under the app-data directory, merged with environment
// overrides, per §6.
func loadConfig() (*config.Config, error) {
	return config.LoadConfig()
}
