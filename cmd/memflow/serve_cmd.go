package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/False-Maker/memflow/internal/agent"
	"github.com/False-Maker/memflow/internal/capture"
	"github.com/False-Maker/memflow/internal/config"
	"github.com/False-Maker/memflow/internal/embedding"
	"github.com/False-Maker/memflow/internal/focus"
	"github.com/False-Maker/memflow/internal/llm"
	"github.com/False-Maker/memflow/internal/logging"
	"github.com/False-Maker/memflow/internal/ocrcapability"
	"github.com/False-Maker/memflow/internal/ocrworker"
	"github.com/False-Maker/memflow/internal/redact"
	"github.com/False-Maker/memflow/internal/retriever"
	"github.com/False-Maker/memflow/internal/scheduler"
	"github.com/False-Maker/memflow/internal/store"
)

func serveCmd() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture/OCR/focus/retention pipeline",
		Long: `Starts the long-running memflow daemon: the capture worker, the OCR
worker, focus analytics, the proactive-context trigger, and retention GC,
all sharing one database connection pool.

On a platform without a native screen-capture/UI-automation binding
registered, the capture worker still runs its heartbeat loop (per §4.5) but
every tick reports the missing capability and is skipped -- wire a platform
host to actually start recording.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug-level logging")
	return cmd
}

func runServe(debug bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLogger, err := logging.New(config.LogsDir(), debug)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer closeLogger()

	db, err := store.Open()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	logger.Info("store opened", zap.String("path", config.DBPath()))

	for _, app := range cfg.Blocklist.LegacyApps {
		if err := db.AddToBlocklist(app); err != nil {
			logger.Warn("failed to seed legacy blocklist entry", zap.String("app", app), zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := newHeadlessHost(config.DataDir(), resourceDir(), logger)

	provider := embedding.Resolve(cfg.Embedding)
	ret := retriever.New(db, provider)

	var llmClient llm.Client
	if cfg.AI.Enabled {
		if c, err := llm.NewClient(); err == nil {
			llmClient = c
		} else {
			logger.Warn("no chat provider available, agent falls back to rule-based proposals", zap.Error(err))
		}
	}
	var agentLLM agent.LLMClient
	if llmClient != nil {
		if c, err := llm.NewCtxClient(llmClient); err == nil {
			agentLLM = c
		} else {
			logger.Warn("chat model selection failed", zap.Error(err))
		}
	}

	notesSessionID, err := db.CreateChatSession("automation-notes")
	if err != nil {
		return fmt.Errorf("create automation-notes session: %w", err)
	}
	registry := agent.DefaultRegistry(host, func(content string) error {
		_, err := db.AddChatMessage(notesSessionID, "note", content, nil)
		return err
	})
	_ = registry // serve does not execute proposals; `memflow agent execute` builds its own registry.

	sched := scheduler.New(db, ret, agentLLM, host, func() int { return cfg.Retention.Days },
		func() bool { return cfg.AI.Enabled && cfg.Focus.ProactiveAssistant && !cfg.Privacy.ModeEnabled }, logger)

	ocrWorker := ocrworker.New(db, ocrcapability.New(ocrcapability.Config{}), ocrworker.Config{
		PreprocessEnabled:   cfg.OCR.PreprocessEnabled,
		PreprocessMaxWidth:  cfg.OCR.PreprocessMaxWidth,
		PreprocessMaxPixels: cfg.OCR.PreprocessMaxPixels,
		RedactionEnabled:    cfg.Redaction.Enabled,
		RedactionLevel:      redact.ParseLevel(cfg.Redaction.Level),
	}, func() bool { return cfg.OCR.Enabled }, logger)

	captureWorker := capture.NewWorker(db, host, host, host, capture.Gates{
		PrivacyModeOn: func() bool { return cfg.Privacy.ModeEnabled },
		PrivacyDeadline: func() (int64, bool) {
			if cfg.Privacy.ModeUntilUnix == 0 {
				return 0, false
			}
			return cfg.Privacy.ModeUntilUnix, true
		},
		DisablePrivacyMode: func() { cfg.Privacy.ModeEnabled = false },
		BlocklistEnabled:   func() bool { return cfg.Blocklist.Enabled },
		BlocklistMode:      func() string { return cfg.Blocklist.Mode },
		InBlocklist: func(name string) bool {
			in, _ := db.InBlocklist(name)
			return in
		},
	}, host, host, func() bool { return cfg.OCR.Enabled }, func() bool { return true },
		cfg.Recording.IntervalMS, logger)

	var focusTracker *focus.Tracker
	if cfg.Focus.AnalyticsEnabled {
		focusTracker = focus.New(db, logger)
	}

	go flushSkipStatsLoop(ctx, db, logger)
	go ocrWorker.Run(ctx)
	go sched.RunRetention(ctx)
	go captureWorker.Run(ctx)
	if focusTracker != nil {
		go focusTracker.Run(ctx)
	}
	go scheduler.WatchConfig(config.ConfigFilePath(config.DataDir()), logger, func(*config.Config) {
		logger.Info("config.json changed on disk; restart memflow serve to apply")
	}, ctx.Done())

	logger.Info("memflow serve started", zap.String("data_dir", config.DataDir()))
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// flushSkipStatsLoop persists the buffered recording-skip counters every
// 5s, per §3's "flushed every 5s from an in-memory accumulator".
func flushSkipStatsLoop(ctx context.Context, db *store.DB, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.FlushSkipStats(); err != nil {
				logger.Warn("flush skip stats failed", zap.Error(err))
			}
		}
	}
}

func resourceDir() string {
	if exe, err := os.Executable(); err == nil {
		return exe + "-resources"
	}
	return "."
}
