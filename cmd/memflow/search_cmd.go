package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/False-Maker/memflow/internal/embedding"
	"github.com/False-Maker/memflow/internal/retriever"
	"github.com/False-Maker/memflow/internal/store"
)

func searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search your activity history from the command line (§4.8)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(strings.Join(args, " "), limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum results to return")
	return cmd
}

func runSearch(query string, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := store.Open()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	ret := retriever.New(db, embedding.Resolve(cfg.Embedding))
	results, err := ret.Search(query, limit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(results) == 0 {
		fmt.Println("No matching activity found.")
		return nil
	}

	for i, r := range results {
		a, err := db.GetActivity(r.ActivityID)
		if err != nil {
			continue
		}
		ts := time.Unix(a.Timestamp, 0).Format("2006-01-02 15:04")
		fmt.Printf("%d. [%s] %-25s score=%.3f\n   %s\n", i+1, ts, a.AppName, r.Score, a.WindowTitle)
		if a.OCRText.Valid && a.OCRText.String != "" {
			fmt.Printf("   %s\n", truncate(a.OCRText.String, 200))
		}
	}
	return nil
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars]) + "..."
}
