// Package logging builds the process-wide zap.Logger described in
// SPEC_FULL.md's ambient stack: structured fields for anything another
// process might consume (capture/OCR/agent audit lines), plain progress
// lines for everything else, all duplicated into a daily-rolled
// logs/memflow.log with no ANSI codes, per §6's storage layout. The
// teacher has no logging framework of its own beyond stderr writes, so
// this package is grounded on zap (jordigilh-kubernaut's structured-logging
// dependency) wrapping a small rotation-aware file writer rather than a
// pulled-in rotation library the corpus doesn't use.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger that writes leveled, ANSI-free lines to both
// stderr and dir/memflow.log, rolling the file at local midnight.
func New(dir string, debug bool) (*zap.Logger, func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, func() {}, fmt.Errorf("create logs dir: %w", err)
	}

	fileWriter := newDailyFile(dir)
	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(fileWriter), level),
	)

	logger := zap.New(core)
	return logger, func() {
		_ = logger.Sync()
		fileWriter.Close()
	}, nil
}

// dailyFile is a zapcore.WriteSyncer over logs/memflow.log. When the local
// date changes while the file is open, the finished day's file is renamed
// to memflow.log.<date> and a fresh memflow.log is started. A file left by
// an earlier process is appended to on first write, whatever its date.
type dailyFile struct {
	dir string

	mu      sync.Mutex
	day     string
	current *os.File
}

func newDailyFile(dir string) *dailyFile {
	return &dailyFile{dir: dir}
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.rotateIfNeededLocked(); err != nil {
		return 0, err
	}
	return d.current.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	return d.current.Sync()
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == nil {
		return nil
	}
	return d.current.Close()
}

func (d *dailyFile) rotateIfNeededLocked() error {
	today := time.Now().Format("2006-01-02")
	if d.current != nil && d.day == today {
		return nil
	}
	path := filepath.Join(d.dir, "memflow.log")
	if d.current != nil {
		_ = d.current.Close()
		_ = os.Rename(path, path+"."+d.day)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	d.current = f
	d.day = today
	return nil
}
