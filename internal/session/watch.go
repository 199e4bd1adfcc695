package session

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// pathStorage is storage backed by a file that can be watched.
type pathStorage interface {
	Path() string
}

// Watch reloads the session whenever another process rewrites the session
// file. It returns once the watch is established; watching stops when ctx
// is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	ps, ok := s.storage.(pathStorage)
	if !ok {
		return ErrNotWatchable
	}
	path := ps.Path()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create session watcher: %w", err)
	}
	// The directory is watched because atomic renames replace the file inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch session directory: %w", err)
	}

	go s.watchLoop(ctx, watcher, filepath.Base(path))
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, name string) {
	defer watcher.Close()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name || event.Op&relevant == 0 {
				continue
			}
			s.Reload(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn(ctx, "session watcher error", zap.Error(err))
		}
	}
}
