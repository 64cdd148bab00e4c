package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a JSONStore's file when it is edited on disk and hands
// the new configuration to onChange.
type Watcher struct {
	store    *JSONStore
	onChange func(Config)
	watcher  *fsnotify.Watcher
}

// NewWatcher starts watching the directory holding store's file.
func NewWatcher(store *JSONStore, onChange func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(store.Path())); err != nil {
		fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(store.Path()), err)
	}
	return &Watcher{store: store, onChange: onChange, watcher: fw}, nil
}

// Run delivers reloads until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	path := w.store.Path()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// JSONStore writes via rename, which shows up as Create
			if event.Name != path || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			// a half-written or invalid file keeps the running config
			cfg, err := w.store.LoadStrict()
			if err != nil {
				slog.Warn("config: failed to reload, keeping current config", "path", path, "err", err)
				continue
			}
			if err := cfg.Validate(); err != nil {
				slog.Warn("config: ignoring invalid edit", "path", path, "err", err)
				continue
			}
			slog.Debug("config: reloaded", "path", path)
			w.onChange(*cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config: watcher error", "err", err)
		}
	}
}

// Close stops the file watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
