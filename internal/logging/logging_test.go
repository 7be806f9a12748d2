package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesLogDirAndFile(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := New(dir, false)
	require.NoError(t, err)
	defer closeFn()

	logger.Info("hello world")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "memflow.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
	assert.Contains(t, string(data), `"level":"info"`)
}

func TestNewDebugLevelIncludesDebugLines(t *testing.T) {
	dir := t.TempDir()
	logger, closeFn, err := New(dir, true)
	require.NoError(t, err)
	defer closeFn()

	logger.Debug("debug detail")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(filepath.Join(dir, "memflow.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug detail")
}

func TestDailyFileRotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	d := newDailyFile(dir)
	defer d.Close()

	_, err := d.Write([]byte("line one\n"))
	require.NoError(t, err)
	firstDay := d.day

	// Simulate a day rollover without sleeping a real day.
	d.day = "2000-01-01"
	_, err = d.Write([]byte("line two\n"))
	require.NoError(t, err)
	assert.NotEqual(t, "2000-01-01", d.day)
	assert.Equal(t, firstDay, d.day)

	data, err := os.ReadFile(filepath.Join(dir, "memflow.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "line one")
	assert.Contains(t, string(data), "line two")

	rolled, err := os.ReadFile(filepath.Join(dir, "memflow.log.2000-01-01"))
	require.NoError(t, err)
	assert.Contains(t, string(rolled), "line one")
}

func TestDailyFileSyncNoopBeforeFirstWrite(t *testing.T) {
	d := newDailyFile(t.TempDir())
	assert.NoError(t, d.Sync())
	assert.NoError(t, d.Close())
}

func TestDailyFileRotationIsFast(t *testing.T) {
	dir := t.TempDir()
	d := newDailyFile(dir)
	defer d.Close()

	start := time.Now()
	for i := 0; i < 100; i++ {
		_, err := d.Write([]byte("x\n"))
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 2*time.Second)
}
