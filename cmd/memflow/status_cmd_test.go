package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatusTextOutput(t *testing.T) {
	setupCommandTestDataDir(t)

	var runErr error
	out := captureCommandStdout(t, func() {
		runErr = runStatus(false)
	})
	require.NoError(t, runErr)
	assert.Contains(t, out, "data directory:")
	assert.Contains(t, out, "schema version:")
	assert.Contains(t, out, "activities tracked: 0")
}

func TestRunStatusJSONOutput(t *testing.T) {
	setupCommandTestDataDir(t)

	var runErr error
	out := captureCommandStdout(t, func() {
		runErr = runStatus(true)
	})
	require.NoError(t, runErr)
	assert.Contains(t, out, `"data_dir"`)
	assert.Contains(t, out, `"schema_version"`)
}
