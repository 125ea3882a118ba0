package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration when config.json changes on disk.
// Editors typically write via rename, so the parent directory is watched
// and events are debounced before reloading.
type Watcher struct {
	cyrusHome string
	onReload  func(*Config)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher that invokes onReload with each successfully
// reloaded configuration. Invalid intermediate states are logged and skipped;
// the previous configuration stays in effect.
func NewWatcher(cyrusHome string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(cyrusHome); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		cyrusHome: cyrusHome,
		onReload:  onReload,
		watcher:   fsw,
		done:      make(chan struct{}),
	}, nil
}

// Start runs the watch loop until the context is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop terminates the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	close(w.done)
	_ = w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	const debounce = 250 * time.Millisecond

	var timer *time.Timer
	var timerC <-chan time.Time
	target := filepath.Base(ConfigPath(w.cyrusHome))

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Config watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := Initialize(ctx, w.cyrusHome)
			if err != nil {
				slog.Warn("Config changed but reload failed, keeping previous configuration", "error", err)
				continue
			}
			slog.Info("Configuration reloaded", "repositories", len(cfg.Repositories))
			w.onReload(cfg)
		}
	}
}
