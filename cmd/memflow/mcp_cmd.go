package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/False-Maker/memflow/internal/embedding"
	"github.com/False-Maker/memflow/internal/mcp"
	"github.com/False-Maker/memflow/internal/retriever"
	"github.com/False-Maker/memflow/internal/store"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Expose search_memory to MCP-speaking tools over stdio",
		Long: `Starts a JSON-RPC MCP server on stdio serving a single
search_memory tool backed by the same hybrid retriever the search and
proactive-context pieces use. Point an MCP-speaking client (an editor, an
agent harness) at "memflow mcp" as its command.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := store.Open()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer db.Close()

			mcp.Version = Version
			ret := retriever.New(db, embedding.Resolve(cfg.Embedding))
			return mcp.Serve(db, ret)
		},
	}
}
