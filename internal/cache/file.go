package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mrz1836/coinvault/internal/chain"
	"github.com/mrz1836/coinvault/internal/fileutil"
)

// cacheFilePermissions is the permission mode for cache files.
const cacheFilePermissions = 0o600

// ErrCorruptCache indicates the cache file is malformed JSON.
var ErrCorruptCache = errors.New("cache file is corrupted")

// fileFormat is the on-disk layout of a FileStore.
type fileFormat struct {
	Entries map[string]Snapshot `json:"entries"`
}

// FileStore keeps snapshots in memory and writes the whole set to one JSON
// file on every change.
type FileStore struct {
	path string

	mu  sync.Mutex
	mem *Memory
}

// OpenFileStore loads the store at path. A missing file gives an empty store.
// A corrupt file is moved aside and the store starts empty; the returned
// error wraps ErrCorruptCache and the store is still usable.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewMemory()}

	var data fileFormat
	found, err := fileutil.ReadJSON(path, &data)
	if err != nil {
		var decodeErr *fileutil.DecodeError
		if !errors.As(err, &decodeErr) {
			return nil, fmt.Errorf("reading cache file: %w", err)
		}
		corruptPath := fmt.Sprintf("%s.corrupt.%d", path, time.Now().UTC().UnixNano())
		if renameErr := os.Rename(path, corruptPath); renameErr != nil {
			return s, fmt.Errorf("%w: %w (also failed to move file: %w)", ErrCorruptCache, err, renameErr)
		}
		return s, fmt.Errorf("%w: %w (moved to %s)", ErrCorruptCache, err, corruptPath)
	}
	if found {
		for key, snap := range data.Entries {
			s.mem.entries[key] = snap
		}
	}
	return s, nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, cur chain.Currency, address string) (Snapshot, bool, error) {
	return s.mem.Get(ctx, cur, address)
}

// Put implements Store.
func (s *FileStore) Put(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Put(ctx, snap); err != nil {
		return err
	}
	return s.saveLocked()
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, cur chain.Currency, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mem.Delete(ctx, cur, address); err != nil {
		return err
	}
	return s.saveLocked()
}

// Prune removes snapshots older than maxAge and saves the file when anything changed.
func (s *FileStore) Prune(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.mem.Prune(maxAge)
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

// Size returns the number of snapshots.
func (s *FileStore) Size() int {
	return s.mem.Size()
}

// Path returns the cache file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) saveLocked() error {
	s.mem.mu.RLock()
	data := fileFormat{Entries: make(map[string]Snapshot, len(s.mem.entries))}
	for key, snap := range s.mem.entries {
		data.Entries[key] = snap
	}
	s.mem.mu.RUnlock()

	if err := fileutil.WriteJSON(s.path, data, cacheFilePermissions); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	return nil
}
