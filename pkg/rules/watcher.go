package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the persisted rules file into the store when it changes on
// disk, so edits made outside the admin surface (or by another instance) take
// effect without a restart.
type Watcher struct {
	path    string
	store   *Store
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewWatcher creates a file watcher for the rules document.
func NewWatcher(path string, store *Store, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create rules watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch rules file: %w", err)
	}
	return &Watcher{
		path:    path,
		store:   store,
		watcher: watcher,
		logger:  logger,
	}, nil
}

// Start watches the rules file until the context is canceled. Rapid
// successive writes are debounced because editors and atomic renames produce
// several events per save.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info("Starting rules file watcher", "path", w.path)

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Rules watcher stopped")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("rules watcher events channel closed")
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce.Reset(debounceDelay)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("rules watcher errors channel closed")
			}
			w.logger.Error("Rules watcher error", "error", err)

		case <-debounce.C:
			if err := w.reload(); err != nil {
				w.logger.Error("Failed to reload rules file", "error", err)
				continue
			}
			// Renames replace the watched inode; re-add so the next
			// save is still seen.
			_ = w.watcher.Add(w.path)
		}
	}
}

// reload loads the file and publishes the result. A file that fails
// validation is ignored in full: the published state never mixes old and new
// rules.
func (w *Watcher) reload() error {
	snap, maintenance, err := LoadFile(w.path)
	if err != nil {
		return err
	}
	w.store.replaceFromDisk(snap, maintenance)
	w.logger.Info("Rules reloaded from disk",
		"rules", snap.Len(),
		"maintenance", maintenance)
	return nil
}

// Close stops the underlying file watcher.
func (w *Watcher) Close() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
