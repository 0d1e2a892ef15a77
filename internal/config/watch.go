package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes on disk and hands the
// new Config to onChange. Invalid intermediate states (mid-save truncation,
// syntax errors) are logged and skipped; the previous configuration stays
// in effect. Watch blocks until ctx is canceled.
//
// The watch is on the containing directory, not the file itself, because
// editors typically replace config files via rename, which drops a
// file-level watch.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	logger.Debug("watching config file", slog.String("path", path))

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}

			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// A zero-length file is a save still in flight. The
			// follow-up event for the real content lands next.
			if info, statErr := os.Stat(path); statErr != nil || info.Size() == 0 {
				continue
			}

			cfg, loadErr := Load(path)
			if loadErr != nil {
				logger.Warn("ignoring config change that failed to load",
					slog.String("path", path),
					slog.String("error", loadErr.Error()),
				)

				continue
			}

			logger.Info("config file changed, reloading", slog.String("path", path))
			onChange(cfg)

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", watchErr.Error()))

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
