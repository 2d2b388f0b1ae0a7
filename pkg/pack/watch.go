package pack

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDelay is how long the watcher waits for writes to settle.
const DefaultWatchDelay = 500 * time.Millisecond

// RebuildFunc receives every rebuilt pack, or the error that stopped it.
type RebuildFunc func(pack *Pack, err error)

// Watcher rebuilds a pack whenever its definition file changes.
type Watcher struct {
	builder *Builder
	logger  zerolog.Logger
	delay   time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher creates a Watcher that rebuilds with builder.
func NewWatcher(builder *Builder, logger zerolog.Logger) *Watcher {
	return &Watcher{
		builder: builder,
		logger:  logger.With().Str("component", "pack-watcher").Logger(),
		delay:   DefaultWatchDelay,
	}
}

// Watch starts watching the definition at path and returns immediately.
// The parent directory is watched so editors that replace the file on save
// are still seen. Watching stops when ctx is done or Stop is called.
func (w *Watcher) Watch(ctx context.Context, path string, fn RebuildFunc) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher, abs, fn)

	w.logger.Info().Str("path", abs).Msg("Watching pack definition")
	return nil
}

// Stop stops watching.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, path string, fn RebuildFunc) {
	var rebuildTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if rebuildTimer != nil {
				rebuildTimer.Stop()
			}
			_ = w.Stop()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Pack definition changed")

			if rebuildTimer != nil {
				rebuildTimer.Stop()
			}
			rebuildTimer = time.AfterFunc(w.delay, func() {
				fn(w.rebuild(ctx, path))
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) rebuild(ctx context.Context, path string) (*Pack, error) {
	def, err := LoadDefinition(path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reload pack definition")
		return nil, err
	}
	pack, err := w.builder.Build(ctx, def)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to rebuild pack")
		return nil, err
	}
	return pack, nil
}
