package workspace

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses a burst of filesystem events (an unzip, a
// scaffolding run) into one notification.
const DefaultDebounce = 500 * time.Millisecond

// Watch reports changes to the set of projects under root. onChange runs on
// its own goroutine at most once per debounce window. Watch blocks until ctx
// is cancelled.
func Watch(ctx context.Context, root string, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(root); err != nil {
		return err
	}

	logger := slog.With("component", "workspace")
	logger.Info("watching projects folder", "dir", root)

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// writes inside a project do not change the project list
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("projects folder changed", "path", event.Name, "op", event.Op)

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if ctx.Err() == nil {
					onChange()
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher error", "error", err)
		}
	}
}
