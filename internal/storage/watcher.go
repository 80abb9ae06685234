package storage

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/parley-org/parley/internal/logger"
)

// Watch invalidates the read cache when a discussion file changes on
// disk outside this process, and logs files appearing without an index
// entry. Runs until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.discussionsDir); err != nil {
		return err
	}
	logger.Debug(ctx, "Watching discussions directory", "dir", s.discussionsDir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleFileEvent(ctx, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "Watcher error", "err", err)
		}
	}
}

func (s *Store) handleFileEvent(ctx context.Context, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".json") || name == indexFileName {
		return
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	if s.cache != nil {
		s.cache.Invalidate(event.Name)
	}

	if event.Op&fsnotify.Create != 0 {
		id := strings.TrimSuffix(name, ".json")
		idx, err := s.readIndex()
		if err != nil {
			return
		}
		if _, ok := idx[id]; !ok {
			logger.Warn(ctx, "Discussion file appeared without index entry", "id", id)
		}
	}
}
