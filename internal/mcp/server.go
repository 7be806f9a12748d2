// Package mcp implements the MCP JSON-RPC surface described in §6: a thin
// adapter exposing a single search_memory tool over stdio. Logs go to
// stderr only -- stdout is the JSON-RPC transport.
package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/False-Maker/memflow/internal/retriever"
	"github.com/False-Maker/memflow/internal/store"
)

// Version is set by the caller (cmd/memflow) before calling Serve.
var Version = "dev"

const maxQueryLen = 10_000
const defaultLimit = 5
const maxLimit = 50

// Serve starts the MCP server on stdio, serving search_memory against db
// and ret until the transport closes.
func Serve(db *store.DB, ret *retriever.Retriever) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "memflow",
		Version: Version,
	}, nil)

	registerTools(server, db, ret)

	return server.Run(context.Background(), &mcp.StdioTransport{})
}

func registerTools(server *mcp.Server, db *store.DB, ret *retriever.Retriever) {
	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}

	mcp.AddTool(server, &mcp.Tool{
		Name: "search_memory",
		Description: "Search the user's captured desktop activity history (screenshots, window " +
			"titles, recognized text) for relevant past context. Use this when you need to recall " +
			"what the user was doing, reading, or working on.\n\n" +
			"Args:\n  query: natural language search query\n  limit: number of results (default 5, max 50)\n\n" +
			"Returns a text summary of matching activity, most relevant first.",
		Annotations: readOnly,
	}, handler(db, ret))
}

type searchMemoryInput struct {
	Query string `json:"query" jsonschema:"Natural language search query"`
	Limit int    `json:"limit,omitempty" jsonschema:"Number of results (default 5, max 50)"`
}

func handler(db *store.DB, ret *retriever.Retriever) func(context.Context, *mcp.CallToolRequest, searchMemoryInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input searchMemoryInput) (*mcp.CallToolResult, any, error) {
		query := strings.TrimSpace(input.Query)
		if query == "" {
			return textResult("Error: query is required."), nil, nil
		}
		if len(query) > maxQueryLen {
			return textResult("Error: query too long (max 10,000 characters)."), nil, nil
		}
		limit := input.Limit
		if limit <= 0 {
			limit = defaultLimit
		}
		if limit > maxLimit {
			limit = maxLimit
		}

		results, err := ret.Search(query, limit)
		if err != nil {
			return textResult(fmt.Sprintf("Search error: %v", err)), nil, nil
		}
		if len(results) == 0 {
			return textResult("No matching activity found."), nil, nil
		}

		var b strings.Builder
		for i, r := range results {
			a, err := db.GetActivity(r.ActivityID)
			if err != nil {
				continue
			}
			ts := time.Unix(a.Timestamp, 0).Format(time.RFC3339)
			fmt.Fprintf(&b, "%d. [%s] %s: %s", i+1, ts, a.AppName, a.WindowTitle)
			if a.OCRText.Valid && a.OCRText.String != "" {
				fmt.Fprintf(&b, "\n   %s", truncate(a.OCRText.String, 300))
			}
			b.WriteString("\n")
		}

		return textResult(b.String()), nil, nil
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "..."
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}
