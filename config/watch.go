package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/ridge/trackmap/retry"
	"github.com/ridge/trackmap/tlog"
	"go.uber.org/zap"
)

// settleDelay lets a burst of writes to the file end before it is reloaded
const settleDelay = 100 * time.Millisecond

// reloadRetry covers reading the file while an editor is still writing it
var reloadRetry = retry.ExpConfig{
	Min:         50 * time.Millisecond,
	Max:         time.Second,
	Scale:       2,
	MaxAttempts: 4,
}

// Watcher reloads the sources file when it changes
type Watcher struct {
	path string
	w    *fsnotify.Watcher
}

// NewWatcher starts watching the file. Changes made after NewWatcher returns
// are reported by Run.
func NewWatcher(path string) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// the directory is watched, as editors replace files instead of writing them
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	return &Watcher{path: abs, w: w}, nil
}

// Run calls onChange with the reloaded configuration whenever the file
// changes, until ctx is closed. Contents that fail to load are logged and
// skipped. The watcher is closed when Run returns.
func (w *Watcher) Run(ctx context.Context, onChange func(*Config)) error {
	defer w.w.Close()

	logger := tlog.Get(ctx).With(zap.String("path", w.path))
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.w.Events:
			if !ok {
				return errors.New("file watcher closed")
			}
			if filepath.Clean(event.Name) == w.path && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				settle = time.After(settleDelay)
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return errors.New("file watcher closed")
			}
			logger.Warn("File watcher error", zap.Error(err))
		case <-settle:
			settle = nil
			config, err := retry.Do1(ctx, reloadRetry, func() (*Config, error) {
				config, err := Load(w.path)
				return config, retry.Retriable(err)
			})
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case err != nil:
				logger.Warn("Failed to reload tile sources, keeping the previous ones", zap.Error(err))
				continue
			}
			logger.Info("Tile sources reloaded", zap.Int("sources", len(config.Sources)))
			onChange(config)
		}
	}
}
