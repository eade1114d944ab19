package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file when it changes on disk.
type Watcher struct {
	path      string
	overrides map[string]any
	watcher   *fsnotify.Watcher
	logger    *slog.Logger
	onChange  func(Config)
}

// NewWatcher watches path and calls onChange with every valid reload.
// overrides are applied on each reload as in LoadWith. The directory is
// watched rather than the file so editors that replace the file by rename
// are still seen.
func NewWatcher(path string, overrides map[string]any, logger *slog.Logger, onChange func(Config)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	return &Watcher{
		path:      filepath.Clean(path),
		overrides: overrides,
		watcher:   fw,
		logger:    logger,
		onChange:  onChange,
	}, nil
}

// Run delivers reloads until ctx is cancelled, then releases the watcher.
// Files that fail to load or validate are logged and the previous settings
// stay in effect.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	w.logger.Debug("watching config", "path", w.path)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadWith(w.path, w.overrides)
			if err != nil {
				w.logger.Warn("config reload failed", "path", w.path, "err", err)
				continue
			}
			w.logger.Info("config reloaded", "path", w.path)
			w.onChange(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "err", err)
		case <-ctx.Done():
			return
		}
	}
}
