package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/False-Maker/memflow/internal/store"
)

func insertCommandTestActivity(t *testing.T, db *store.DB, appName, title, ocrText string, ts int64) int64 {
	t.Helper()
	id, err := db.InsertActivity(store.Activity{
		Timestamp:   ts,
		AppName:     appName,
		WindowTitle: title,
		ImagePath:   "/tmp/unused.webp",
	})
	require.NoError(t, err)
	if ocrText != "" {
		require.NoError(t, db.UpdateActivityText(id, ocrText))
	}
	return id
}

func TestRunSearchNoResults(t *testing.T) {
	setupCommandTestDataDir(t)
	out := captureCommandStdout(t, func() {
		err := runSearch("nothing should match this", 5)
		require.NoError(t, err)
	})
	assert.Contains(t, out, "No matching activity found.")
}

func TestRunSearchFindsInsertedActivity(t *testing.T) {
	db := setupCommandTestDataDir(t)
	insertCommandTestActivity(t, db, "vscode.exe", "main.go - memflow", "func TestSomethingUnique42", 1700000000)

	out := captureCommandStdout(t, func() {
		err := runSearch("TestSomethingUnique42", 5)
		require.NoError(t, err)
	})
	assert.Contains(t, out, "vscode.exe")
}
