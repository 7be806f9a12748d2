package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunDoctorPassesWithFreshDatabase(t *testing.T) {
	setupCommandTestDataDir(t)

	var runErr error
	out := captureCommandStdout(t, func() {
		runErr = runDoctor(false)
	})
	assert.NoError(t, runErr)
	assert.Contains(t, out, "Data directory")
	assert.Contains(t, out, "Database")
	assert.Contains(t, out, "passed")
}

func TestRunDoctorJSONOutput(t *testing.T) {
	setupCommandTestDataDir(t)

	var runErr error
	out := captureCommandStdout(t, func() {
		runErr = runDoctor(true)
	})
	assert.NoError(t, runErr)
	assert.Contains(t, out, `"checks"`)
	assert.Contains(t, out, `"summary"`)
}

func TestRunDoctorSkipsOptionalChecksWhenDisabled(t *testing.T) {
	setupCommandTestDataDir(t)

	out := captureCommandStdout(t, func() {
		_ = runDoctor(false)
	})
	assert.Contains(t, out, "Chat model provider: ai.enabled is false")
	assert.Contains(t, out, "OCR capability: ocr.enabled is false")
}
