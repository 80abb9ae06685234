// Package storage persists discussions as pretty-printed JSON files
// under a single root directory, with a separate index for listing,
// rotating backups and crash recovery. The index is the source of
// truth for existence: a file without an index entry is an orphan, an
// entry without a file degrades List but never crashes.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/parley-org/parley/internal/fileutil"
	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/models"
)

// Sentinel errors.
var (
	// ErrDiscussionNotFound is returned when no file exists for an id.
	ErrDiscussionNotFound = errors.New("discussion not found")

	// ErrLocked is returned when another process holds the data dir.
	ErrLocked = errors.New("data directory is locked by another process")
)

const (
	discussionsDirName = "discussions"
	backupsDirName     = "backups"
	indexFileName      = "index.json"
	metadataFileName   = "metadata.json"
	lockFileName       = ".lock"

	// SchemaVersion is written into metadata.json.
	SchemaVersion = 1

	// DefaultBackupRetention keeps the newest N backup directories.
	DefaultBackupRetention = 10

	filePerm = os.FileMode(0600)
	dirPerm  = os.FileMode(0750)
)

// metadata is the shape of metadata.json.
type metadata struct {
	SchemaVersion int        `json:"schemaVersion"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastBackupAt  *time.Time `json:"lastBackupAt,omitempty"`
	SavedCount    int64      `json:"savedCount"`
}

// Store owns the on-disk representation of discussions.
type Store struct {
	root            string
	discussionsDir  string
	backupsDir      string
	backupRetention int

	lock  *flock.Flock
	cache *fileutil.Cache[*models.Discussion]

	// indexMu guards index.json rewrites so readers never see a torn
	// file; metaMu guards metadata.json the same way.
	indexMu sync.Mutex
	metaMu  sync.Mutex

	// fileMu serializes writes per discussion file.
	fileMu sync.Map // id -> *sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithBackupRetention overrides how many backups survive rotation.
func WithBackupRetention(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.backupRetention = n
		}
	}
}

// WithCache installs a read cache for discussion files.
func WithCache(cache *fileutil.Cache[*models.Discussion]) Option {
	return func(s *Store) {
		s.cache = cache
	}
}

// Open initializes the directory layout under root and takes an
// exclusive lock so two processes never share one data dir.
func Open(root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:            root,
		discussionsDir:  filepath.Join(root, discussionsDirName),
		backupsDir:      filepath.Join(root, backupsDirName),
		backupRetention: DefaultBackupRetention,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, dir := range []string{s.root, s.discussionsDir, s.backupsDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	s.lock = flock.New(filepath.Join(root, lockFileName))
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, root)
	}

	if err := s.ensureMetadata(); err != nil {
		_ = s.lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Close releases the process lock.
func (s *Store) Close() error {
	if s.lock != nil {
		return s.lock.Unlock()
	}
	return nil
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

func (s *Store) discussionPath(id string) string {
	return filepath.Join(s.discussionsDir, id+".json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.discussionsDir, indexFileName)
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.root, metadataFileName)
}

func (s *Store) fileLock(id string) *sync.Mutex {
	mu, _ := s.fileMu.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Save writes the discussion file atomically, then rewrites its index
// entry. Callers in the turn loop treat a returned error as log-only.
func (s *Store) Save(ctx context.Context, d *models.Discussion) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("cannot save discussion without id")
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal discussion %s: %w", d.ID, err)
	}

	path := s.discussionPath(d.ID)
	mu := s.fileLock(d.ID)
	mu.Lock()
	err = fileutil.AtomicWrite(path, data, filePerm)
	mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write discussion %s: %w", d.ID, err)
	}
	if s.cache != nil {
		s.cache.Invalidate(path)
	}

	if err := s.updateIndex(func(idx map[string]models.IndexEntry) {
		idx[d.ID] = models.IndexEntryOf(d)
	}); err != nil {
		return err
	}

	s.bumpSavedCount(ctx)
	return nil
}

// Load reads a discussion by id. A missing file yields
// ErrDiscussionNotFound; a nil message slice is defaulted to empty.
func (s *Store) Load(_ context.Context, id string) (*models.Discussion, error) {
	path := s.discussionPath(id)

	loader := func() (*models.Discussion, error) {
		return readDiscussionFile(path)
	}

	var d *models.Discussion
	var err error
	if s.cache != nil {
		d, err = s.cache.LoadLatest(path, loader)
	} else {
		d, err = loader()
	}
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDiscussionNotFound, id)
		}
		return nil, err
	}
	return d, nil
}

func readDiscussionFile(path string) (*models.Discussion, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	var d models.Discussion
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if d.Messages == nil {
		d.Messages = []models.Message{}
	}
	return &d, nil
}

// Delete removes the discussion file and its index entry. Deleting an
// unknown id is not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	path := s.discussionPath(id)
	mu := s.fileLock(id)
	mu.Lock()
	err := os.Remove(path)
	mu.Unlock()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete discussion %s: %w", id, err)
	}
	if s.cache != nil {
		s.cache.Invalidate(path)
	}
	s.fileMu.Delete(id)

	return s.updateIndex(func(idx map[string]models.IndexEntry) {
		delete(idx, id)
	})
}

// List returns all index entries, newest first. A corrupt index entry
// is skipped with a warning, never a failure.
func (s *Store) List(ctx context.Context) ([]models.IndexEntry, error) {
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}

	entries := make([]models.IndexEntry, 0, len(idx))
	for id, entry := range idx {
		if entry.ID == "" || !entry.Status.Valid() {
			logger.Warn(ctx, "Skipping corrupt index entry", "id", id)
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	return entries, nil
}

// AutoSave persists every active discussion, logging failures instead
// of propagating them.
func (s *Store) AutoSave(ctx context.Context, active []*models.Discussion) {
	for _, d := range active {
		if err := s.Save(ctx, d); err != nil {
			logger.Error(ctx, "Auto-save failed", "discussionId", d.ID, "err", err)
		}
	}
	if len(active) > 0 {
		logger.Debug(ctx, "Auto-saved active discussions", "count", len(active))
	}
}

// RecoverInterrupted rewrites discussions left running or summarizing
// by a previous process to stopped. Nothing is auto-resumed.
func (s *Store) RecoverInterrupted(ctx context.Context) (int, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, entry := range entries {
		if !entry.Status.IsActive() {
			continue
		}
		d, err := s.Load(ctx, entry.ID)
		if err != nil {
			logger.Warn(ctx, "Cannot recover discussion", "id", entry.ID, "err", err)
			continue
		}
		d.Status = models.StatusStopped
		d.Touch()
		if err := s.Save(ctx, d); err != nil {
			logger.Error(ctx, "Failed to persist recovered discussion", "id", entry.ID, "err", err)
			continue
		}
		logger.Info(ctx, "Recovered interrupted discussion", "id", entry.ID)
		recovered++
	}
	return recovered, nil
}

// Info describes the store for the management endpoint.
type Info struct {
	Root            string     `json:"root"`
	DiscussionCount int        `json:"discussionCount"`
	TotalBytes      int64      `json:"totalBytes"`
	BackupCount     int        `json:"backupCount"`
	LastBackupAt    *time.Time `json:"lastBackupAt,omitempty"`
	FreeDiskBytes   uint64     `json:"freeDiskBytes"`
}

// Info reports usage statistics for the storage root.
func (s *Store) Info(ctx context.Context) (*Info, error) {
	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	size, err := fileutil.DirSize(s.discussionsDir)
	if err != nil {
		return nil, err
	}
	backups, err := s.listBackups()
	if err != nil {
		return nil, err
	}

	info := &Info{
		Root:            s.root,
		DiscussionCount: len(idx),
		TotalBytes:      size,
		BackupCount:     len(backups),
	}
	if meta, err := s.readMetadata(); err == nil {
		info.LastBackupAt = meta.LastBackupAt
	}
	if usage, err := disk.UsageWithContext(ctx, s.root); err == nil {
		info.FreeDiskBytes = usage.Free
	} else {
		logger.Warn(ctx, "Cannot read disk usage", "err", err)
	}
	return info, nil
}

func (s *Store) ensureMetadata() error {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	if fileutil.FileExists(s.metadataPath()) {
		return nil
	}
	meta := metadata{SchemaVersion: SchemaVersion, CreatedAt: time.Now()}
	return s.writeMetadataLocked(meta)
}

func (s *Store) readMetadata() (metadata, error) {
	var meta metadata
	data, err := os.ReadFile(s.metadataPath()) //nolint:gosec
	if err != nil {
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

func (s *Store) writeMetadataLocked(meta metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := fileutil.AtomicWrite(s.metadataPath(), data, filePerm); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (s *Store) bumpSavedCount(ctx context.Context) {
	s.metaMu.Lock()
	defer s.metaMu.Unlock()
	meta, err := s.readMetadata()
	if err != nil {
		logger.Warn(ctx, "Cannot update metadata", "err", err)
		return
	}
	meta.SavedCount++
	if err := s.writeMetadataLocked(meta); err != nil {
		logger.Warn(ctx, "Cannot update metadata", "err", err)
	}
}
