package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// UpdateHandler is called with a validated configuration after a reload.
type UpdateHandler func(*Config)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	loader  *Loader
	watcher *fsnotify.Watcher
	handler UpdateHandler
	logger  *zap.Logger
}

// NewWatcher creates a watcher. Call Start to begin watching.
func NewWatcher(loader *Loader, handler UpdateHandler, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		loader:  loader,
		watcher: fsWatcher,
		handler: handler,
		logger:  logger,
	}, nil
}

// Start watches the config directory until ctx is done.
// The directory is watched (not the file) so editors that replace the
// file with a rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.loader.Dir()); err != nil {
		return err
	}
	w.logger.Info("watching config file", zap.String("path", w.loader.Path()))

	go w.loop(ctx)
	return nil
}

// Stop releases the underlying watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.loader.Path()) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.reload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	changed, err := w.loader.HasChanged()
	if err != nil {
		w.logger.Warn("failed to check config file", zap.Error(err))
		return
	}
	if !changed {
		return
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error("config reload failed, keeping previous settings", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error("reloaded config is invalid, keeping previous settings", zap.Error(err))
		return
	}

	w.logger.Info("config reloaded", zap.String("path", w.loader.Path()))
	if w.handler != nil {
		w.handler(cfg)
	}
}
