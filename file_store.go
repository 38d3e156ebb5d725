package kanshilog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/segmentio/encoding/json"
)

// fileStore is the fallback backend used when SQLite is unavailable. It
// keeps the full entry set in memory and persists it as a single JSON
// array, rewritten atomically (temp file + rename) on every mutation.
// Acceptable because the store is capped and write volume is low.
//
// entries is held sorted newest-first, with later saves ahead of earlier
// ones at equal timestamps — the same order the SQLite backend produces
// with its ts/rowid sort.
type fileStore struct {
	path    string
	max     int
	mu      sync.Mutex
	entries []Entry
}

// OpenFileStore creates or opens a JSON file-backed store at path.
func OpenFileStore(path string, maxEntries int) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	st := &fileStore{path: path, max: maxEntries}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// fresh store
	case err != nil:
		return nil, fmt.Errorf("read store file: %w", err)
	case len(data) > 0:
		if err := json.Unmarshal(data, &st.entries); err != nil {
			return nil, fmt.Errorf("decode store file: %w", err)
		}
		sortNewestFirst(st.entries)
		if len(st.entries) > st.max {
			st.entries = st.entries[:st.max:st.max]
		}
	}

	return st, nil
}

// Save inserts the entry at its newest-first position, trims to capacity,
// and rewrites the file. The insertion point is before any existing entry
// with the same timestamp, so at capacity the oldest entry is dropped and
// a timestamp tie keeps the most recently saved one.
func (s *fileStore) Save(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return storageErr("save entry", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := e.normalize()
	at := sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].Timestamp.After(entry.Timestamp)
	})
	s.entries = append(s.entries, Entry{})
	copy(s.entries[at+1:], s.entries[at:])
	s.entries[at] = entry
	if len(s.entries) > s.max {
		s.entries = s.entries[:s.max:s.max]
	}

	if err := s.persistLocked(); err != nil {
		return storageErr("save entry", err)
	}
	return nil
}

// persistLocked writes the entry set to a temp file and renames it into
// place so a crash never leaves a half-written store.
func (s *fileStore) persistLocked() error {
	data, err := json.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode entries: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

// Query filters in memory; the entry set is already newest-first.
func (s *fileStore) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, storageErr("query entries", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Entry
	for _, e := range s.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Clear drops all entries and truncates the file.
func (s *fileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return storageErr("clear entries", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	if err := s.persistLocked(); err != nil {
		return storageErr("clear entries", err)
	}
	return nil
}

// Stats computes a snapshot from the in-memory entry set.
func (s *fileStore) Stats(ctx context.Context) (StorageStats, error) {
	if err := ctx.Err(); err != nil {
		return StorageStats{}, storageErr("compute stats", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return statsFromEntries(s.entries, BackendFile), nil
}

// Close is a no-op; the file is rewritten whole on each mutation.
func (s *fileStore) Close() error {
	return nil
}
