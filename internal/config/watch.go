package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the config file and calls apply with the freshly loaded
// config on every change. A load failure keeps the previous config and is
// only logged. Watch blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself because most
// editors and provisioning tools replace the file (rename over), which
// would otherwise drop the watch.
func Watch(ctx context.Context, path string, logger *slog.Logger, apply func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce bursts of events from a single save.
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("config: watcher error", "err", err)
		case <-pending:
			pending = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Error("config: reload failed, keeping previous config", "path", path, "err", err)
				continue
			}
			apply(cfg)
			logger.Info("configuration reloaded", "path", path)
		}
	}
}
