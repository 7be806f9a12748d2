package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/False-Maker/memflow/internal/config"
	"github.com/False-Maker/memflow/internal/llm"
	"github.com/False-Maker/memflow/internal/ocrcapability"
	"github.com/False-Maker/memflow/internal/store"
)

// doctorResult is one health-check outcome, mirroring the teacher's
// pass/skip/fail report shape.
type doctorResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "pass", "skip", "fail"
	Message string `json:"message,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

type doctorReport struct {
	Checks  []doctorResult `json:"checks"`
	Summary struct {
		Total   int `json:"total"`
		Passed  int `json:"passed"`
		Skipped int `json:"skipped"`
		Failed  int `json:"failed"`
	} `json:"summary"`
}

func doctorCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check if everything is working",
		Long:  "Runs health checks: data directory, database integrity, Ollama reachability, OCR capability reachability.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(jsonOut)
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func runDoctor(jsonOut bool) error {
	var report doctorReport
	passed, skipped, failed := 0, 0, 0

	check := func(name, hint string, fn func() (string, error)) {
		detail, err := fn()
		if err != nil {
			report.Checks = append(report.Checks, doctorResult{Name: name, Status: "fail", Message: err.Error(), Hint: hint})
			if !jsonOut {
				fmt.Printf("  ✗ %s: %s\n", name, err)
				if hint != "" {
					fmt.Printf("    -> %s\n", hint)
				}
			}
			failed++
			return
		}
		report.Checks = append(report.Checks, doctorResult{Name: name, Status: "pass", Message: detail})
		if !jsonOut {
			if detail != "" {
				fmt.Printf("  ✓ %s (%s)\n", name, detail)
			} else {
				fmt.Printf("  ✓ %s\n", name)
			}
		}
		passed++
	}

	skip := func(name, reason string) {
		report.Checks = append(report.Checks, doctorResult{Name: name, Status: "skip", Message: reason})
		if !jsonOut {
			fmt.Printf("  - %s: %s\n", name, reason)
		}
		skipped++
	}

	if !jsonOut {
		fmt.Println("memflow doctor")
		fmt.Println()
	}

	check("Data directory", "check MEMFLOW_DATA_DIR or platform default permissions", func() (string, error) {
		dir := config.DataDir()
		info, err := os.Stat(dir)
		if err != nil {
			return "", fmt.Errorf("does not exist: %s", dir)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("%s is not a directory", dir)
		}
		return dir, nil
	})

	var db *store.DB
	check("Database", "run 'memflow serve' once to initialize the database", func() (string, error) {
		d, err := store.Open()
		if err != nil {
			return "", fmt.Errorf("cannot open: %w", err)
		}
		db = d
		return fmt.Sprintf("schema v%d", db.SchemaVersion()), nil
	})
	if db != nil {
		defer db.Close()

		check("Database integrity", "database may be corrupted; memflow serve runs automatic recovery at startup", func() (string, error) {
			if err := db.IntegrityCheck(); err != nil {
				return "", err
			}
			return "ok", nil
		})

		check("Full-text search", "FTS5 virtual tables missing; reinitialize the database", func() (string, error) {
			if !db.FTSAvailable() {
				return "", fmt.Errorf("not available")
			}
			return "available", nil
		})
	} else {
		skip("Database integrity", "database unavailable")
		skip("Full-text search", "database unavailable")
	}

	cfg, cfgErr := loadConfig()
	if cfgErr != nil {
		skip("Config", cfgErr.Error())
	} else {
		check("Config", "", func() (string, error) {
			return config.ConfigFilePath(config.DataDir()), nil
		})
	}

	if cfg != nil && cfg.AI.Enabled {
		check("Chat model provider", "start Ollama or configure an OpenAI-compatible endpoint in config.json", func() (string, error) {
			client, err := llm.NewClient()
			if err != nil {
				return "", err
			}
			model, err := client.PickBestModel()
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s via %s", model, client.Provider()), nil
		})
	} else {
		skip("Chat model provider", "ai.enabled is false")
	}

	if cfg != nil && cfg.OCR.Enabled {
		check("OCR capability", "start the OCR sidecar or set RAPIDOCR_API_URL", func() (string, error) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			ocrClient := ocrcapability.New(ocrcapability.Config{})
			if !ocrClient.IsAvailable(ctx) {
				return "", fmt.Errorf("unreachable")
			}
			return "reachable", nil
		})
	} else {
		skip("OCR capability", "ocr.enabled is false")
	}

	report.Summary.Total = passed + skipped + failed
	report.Summary.Passed = passed
	report.Summary.Skipped = skipped
	report.Summary.Failed = failed

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Println()
	fmt.Printf("%d passed, %d skipped, %d failed\n", passed, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
