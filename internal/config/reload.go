package config

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and hands the new
// configuration to a callback. Only a subset of settings take effect at
// runtime (log level, AI enablement, sweeper timing); the callback owner
// decides what to apply.
type Watcher struct {
	path     string
	logger   *log.Logger
	onChange func(*Config)
}

// NewWatcher builds a watcher for the config file at path.
func NewWatcher(path string, logger *log.Logger, onChange func(*Config)) *Watcher {
	return &Watcher{path: path, logger: logger, onChange: onChange}
}

// Run watches until ctx is done. Editors replace files rather than writing
// in place, so the parent directory is watched and events are matched by
// name. A short debounce absorbs write bursts.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	var debounce *time.Timer
	fire := func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Printf("config reload skipped: %v", err)
			return
		}
		w.logger.Printf("config reloaded from %s", w.path)
		w.onChange(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, fire)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("config watch error: %v", err)
		}
	}
}
