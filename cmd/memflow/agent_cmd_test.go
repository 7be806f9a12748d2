package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentProposeFallsBackToRuleBasedWithoutLLM(t *testing.T) {
	db := setupCommandTestDataDir(t)
	insertCommandTestActivity(t, db, "chrome.exe", "docs - Google Chrome", "reading documentation", 1700000000)

	out := captureCommandStdout(t, func() {
		cmd := agentProposeCmd()
		cmd.SetArgs([]string{"--hours", "720", "--limit", "3"})
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, out, "risk=")
}

func TestAgentListShowsProposedEntries(t *testing.T) {
	db := setupCommandTestDataDir(t)
	insertCommandTestActivity(t, db, "chrome.exe", "docs - Google Chrome", "reading documentation", 1700000000)

	captureCommandStdout(t, func() {
		cmd := agentProposeCmd()
		cmd.SetArgs([]string{"--hours", "720", "--limit", "3"})
		require.NoError(t, cmd.Execute())
	})

	out := captureCommandStdout(t, func() {
		cmd := agentListCmd()
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, out, "steps)")
}

func TestAgentCancelUnknownExecutionIsANoop(t *testing.T) {
	setupCommandTestDataDir(t)
	out := captureCommandStdout(t, func() {
		cmd := agentCancelCmd()
		cmd.SetArgs([]string{"999999"})
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, out, "cancel requested for execution #999999")
}
