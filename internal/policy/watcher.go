package policy

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aegis-agent/aegis/internal/observability"
)

// Watch reloads the engine when its policy document changes on disk.
// Events are debounced because editors produce write bursts. A reload
// failure is logged and the prior configuration stays in effect.
//
// Watch blocks until ctx is cancelled; run it on its own goroutine.
func (e *Engine) Watch(ctx context.Context, logger *observability.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(e.configPath); err != nil {
		return err
	}

	const debounce = 250 * time.Millisecond
	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if err := e.Reload(); err != nil {
				logger.Warn(ctx, "policy reload failed, keeping previous config", "error", err)
			} else {
				logger.Info(ctx, "policy config reloaded", "path", e.configPath)
			}
			// Editors that replace the file break the watch; re-add.
			_ = watcher.Add(e.configPath)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "policy watcher error", "error", err)
		}
	}
}
