package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// Watch observes configPath and invokes onChange with the freshly loaded
// configuration after each write. Reloads that fail to parse or validate
// are logged and skipped, leaving the previous configuration in effect.
//
// The parent directory is watched rather than the file itself so that
// atomic rename-style saves keep delivering events.
func Watch(configPath string, logger *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(configPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	w := &Watcher{watcher: fsw, stop: make(chan struct{})}
	go w.processEvents(configPath, logger, onChange)
	return w, nil
}

// Stop stops watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	close(w.stop)
	w.watcher.Close() //nolint:errcheck
}

func (w *Watcher) processEvents(configPath string, logger *zap.Logger, onChange func(*Config)) {
	target := filepath.Clean(configPath)
	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(configPath)
			if err != nil {
				logger.Warn("config reload failed, keeping previous configuration",
					zap.String("path", configPath), zap.Error(err))
				continue
			}
			logger.Info("configuration reloaded", zap.String("path", configPath))
			onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}
