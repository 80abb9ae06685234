package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/parley-org/parley/internal/fileutil"
	"github.com/parley-org/parley/internal/models"
)

// readIndex loads discussions/index.json. A missing file is an empty
// index, not an error.
func (s *Store) readIndex() (map[string]models.IndexEntry, error) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.readIndexLocked()
}

func (s *Store) readIndexLocked() (map[string]models.IndexEntry, error) {
	data, err := os.ReadFile(s.indexPath()) //nolint:gosec
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]models.IndexEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	idx := map[string]models.IndexEntry{}
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	return idx, nil
}

// updateIndex applies mutate to the index and rewrites it atomically
// under the index mutex, so readers never observe a torn file.
func (s *Store) updateIndex(mutate func(map[string]models.IndexEntry)) error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	idx, err := s.readIndexLocked()
	if err != nil {
		return err
	}
	mutate(idx)

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := fileutil.AtomicWrite(s.indexPath(), data, filePerm); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}
