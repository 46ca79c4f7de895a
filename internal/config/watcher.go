package config

import (
	"context"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher live-reloads a KEY=VALUE config file while a long-running
// interactive session is up (SPEC_FULL.md §2's ambient config stack), so an
// operator can tune LOG_LEVEL/LOG_FORMAT without restarting the process.
// The process-start Config itself stays immutable per spec §9; Watcher only
// ever hands the caller a freshly Load()ed Config for it to selectively
// apply, it never mutates the original in place.
type Watcher struct {
	fsw *fsnotify.Watcher
	log *slog.Logger
}

// NewWatcher starts watching path for writes/renames/creates (editors
// commonly replace a file via rename-into-place, which fsnotify reports as
// Create on the destination name rather than Write).
func NewWatcher(path string, log *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{fsw: fsw, log: log}, nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run blocks, invoking onReload with the freshly reloaded Config each time
// path is written or replaced, until ctx is cancelled or the watcher is
// closed. Reload errors are logged and skipped rather than propagated --
// a transient half-written config file must not crash a running session.
func (w *Watcher) Run(ctx context.Context, path string, onReload func(Config)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				w.log.Warn("config: reload_failed", "path", path, "error", err)
				continue
			}
			w.log.Info("config: reloaded", "path", path)
			onReload(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config: watch_error", "path", path, "error", err)
		}
	}
}
