package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parley-org/parley/internal/fileutil"
	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/models"
)

const backupDirPrefix = "backup-"

// backupTimestampLayout sorts lexicographically in time order, which
// the rotation relies on.
const backupTimestampLayout = "20060102T150405Z"

// Backup snapshots all discussion files plus the index and metadata
// into a fresh backups/backup-<ts> directory, then prunes old backups
// beyond the retention count.
func (s *Store) Backup(ctx context.Context) (string, error) {
	stamp := time.Now().UTC().Format(backupTimestampLayout)
	dest := filepath.Join(s.backupsDir, backupDirPrefix+stamp)
	if err := os.MkdirAll(dest, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}

	entries, err := os.ReadDir(s.discussionsDir)
	if err != nil {
		return "", fmt.Errorf("failed to read discussions dir: %w", err)
	}
	copied := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		src := filepath.Join(s.discussionsDir, entry.Name())
		if err := fileutil.CopyFile(src, filepath.Join(dest, entry.Name())); err != nil {
			return "", fmt.Errorf("failed to copy %s: %w", entry.Name(), err)
		}
		copied++
	}
	if fileutil.FileExists(s.metadataPath()) {
		if err := fileutil.CopyFile(s.metadataPath(), filepath.Join(dest, metadataFileName)); err != nil {
			return "", fmt.Errorf("failed to copy metadata: %w", err)
		}
	}

	now := time.Now()
	s.metaMu.Lock()
	if meta, err := s.readMetadata(); err == nil {
		meta.LastBackupAt = &now
		if err := s.writeMetadataLocked(meta); err != nil {
			logger.Warn(ctx, "Cannot record backup time", "err", err)
		}
	}
	s.metaMu.Unlock()

	if err := s.rotateBackups(ctx); err != nil {
		logger.Warn(ctx, "Backup rotation failed", "err", err)
	}

	logger.Info(ctx, "Backup created", "dir", dest, "files", copied)
	return dest, nil
}

// listBackups returns backup directory names sorted ascending.
func (s *Store) listBackups() ([]string, error) {
	entries, err := os.ReadDir(s.backupsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backups dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), backupDirPrefix) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// rotateBackups removes the oldest backups beyond the retention count.
func (s *Store) rotateBackups(ctx context.Context) error {
	names, err := s.listBackups()
	if err != nil {
		return err
	}
	if len(names) <= s.backupRetention {
		return nil
	}
	for _, name := range names[:len(names)-s.backupRetention] {
		dir := filepath.Join(s.backupsDir, name)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		logger.Debug(ctx, "Pruned old backup", "dir", dir)
	}
	return nil
}

// Cleanup removes orphaned discussion files: present on disk but
// absent from the index. Returns the number removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	idx, err := s.readIndex()
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(s.discussionsDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read discussions dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == indexFileName || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if _, ok := idx[id]; ok {
			continue
		}
		path := filepath.Join(s.discussionsDir, name)
		if err := os.Remove(path); err != nil {
			logger.Warn(ctx, "Cannot remove orphaned file", "path", path, "err", err)
			continue
		}
		if s.cache != nil {
			s.cache.Invalidate(path)
		}
		logger.Info(ctx, "Removed orphaned discussion file", "id", id)
		removed++
	}
	return removed, nil
}

// RebuildIndex reconstructs the index from the discussion files on
// disk. Used as a manual repair path when the index is lost.
func (s *Store) RebuildIndex(ctx context.Context) error {
	entries, err := os.ReadDir(s.discussionsDir)
	if err != nil {
		return fmt.Errorf("failed to read discussions dir: %w", err)
	}

	rebuilt := map[string]models.IndexEntry{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == indexFileName || !strings.HasSuffix(name, ".json") {
			continue
		}
		d, err := readDiscussionFile(filepath.Join(s.discussionsDir, name))
		if err != nil {
			logger.Warn(ctx, "Skipping unreadable discussion file", "file", name, "err", err)
			continue
		}
		rebuilt[d.ID] = models.IndexEntryOf(d)
	}

	return s.updateIndex(func(idx map[string]models.IndexEntry) {
		for id := range idx {
			delete(idx, id)
		}
		for id, entry := range rebuilt {
			idx[id] = entry
		}
	})
}
