package scheduler

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/False-Maker/memflow/internal/config"
)

// WatchConfig watches configPath for writes and invokes onReload with the
// freshly parsed config, debounced the same way the teacher's vault watcher
// debounces file-change bursts. Runs until the watcher or ctx's done
// channel (checked via stop) closes; intended to be run in its own
// goroutine for the process lifetime.
func WatchConfig(configPath string, logger *zap.Logger, onReload func(*config.Config), stop <-chan struct{}) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable", zap.Error(err))
		return
	}
	defer w.Close()

	dir := filepath.Dir(configPath)
	if err := w.Add(dir); err != nil {
		logger.Warn("config watcher could not watch directory", zap.String("dir", dir), zap.Error(err))
		return
	}

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	reload := func() {
		cfg, err := config.LoadConfigFrom(configPath)
		if err != nil {
			logger.Warn("config hot-reload failed", zap.Error(err))
			return
		}
		logger.Info("config hot-reloaded", zap.String("path", configPath))
		onReload(cfg)
	}

	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(configPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
