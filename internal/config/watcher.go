package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent reports that config.yaml changed on disk, so the caller
// (typically cmd/swarmbotd) can reload tunables like retry backoff or
// the heartbeat interval without a restart. Structural settings
// (EventRingCapacity, BindAddr) still require a restart to take effect,
// since they size or open resources at construction time.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher watches a home directory's config.yaml for changes.
type Watcher struct {
	homeDir string
	logger  *slog.Logger
	events  chan ReloadEvent
}

// NewWatcher creates a Watcher rooted at homeDir.
func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir: homeDir,
		logger:  logger,
		events:  make(chan ReloadEvent, 16),
	}
}

// Events yields a ReloadEvent each time config.yaml is written, created,
// or renamed into place.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	path := filepath.Join(w.homeDir, "config.yaml")
	if err := fsw.Add(path); err != nil {
		w.logger.Warn("config watcher: could not watch config.yaml yet", "path", path, "err", err)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}
