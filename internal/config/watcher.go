package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the write bursts editors produce on save.
const debounceWindow = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk. Reloads that
// fail to parse or validate are logged and dropped; the previous config
// stays in effect.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *slog.Logger
	fsw      *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher watches path and calls onChange with each successfully
// reloaded config. Watching starts with Run.
func NewWatcher(path string, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     absPath,
		onChange: onChange,
		logger:   logger.With("component", "config-watcher"),
		done:     make(chan struct{}),
	}, nil
}

// Run blocks until ctx is cancelled. The parent directory is watched
// rather than the file so atomic rename-over-save keeps working.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.done)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	w.fsw = fsw

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var pending *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(debounceWindow)
				fire = pending.C
			} else {
				pending.Reset(debounceWindow)
			}
		case <-fire:
			pending = nil
			fire = nil
			w.reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Done is closed when Run has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
