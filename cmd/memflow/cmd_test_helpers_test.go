package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/False-Maker/memflow/internal/config"
	"github.com/False-Maker/memflow/internal/store"
)

// setupCommandTestDataDir points MEMFLOW_DATA_DIR at a fresh temp directory,
// writes a config.json with network-dependent features (AI, OCR) disabled
// so command tests stay deterministic offline, and opens the store there.
func setupCommandTestDataDir(t *testing.T) *store.DB {
	t.Helper()

	dataDir := t.TempDir()
	t.Setenv("MEMFLOW_DATA_DIR", dataDir)
	t.Setenv("MEMFLOW_EMBED_PROVIDER", "none")
	if err := os.MkdirAll(filepath.Join(dataDir, "screenshots"), 0o755); err != nil {
		t.Fatalf("mkdir screenshots: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.AI.Enabled = false
	cfg.OCR.Enabled = false
	if err := config.SaveConfig(dataDir, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	db, err := store.Open()
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// captureCommandStdout runs fn with os.Stdout redirected to a pipe and
// returns everything written to it.
func captureCommandStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()

	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		t.Fatalf("io.Copy: %v", err)
	}
	return buf.String()
}
