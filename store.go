package kanshilog

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/segmentio/encoding/json"
)

// DefaultMaxEntries caps the local store when no explicit limit is set.
const DefaultMaxEntries = 1000

// Store abstracts local log persistence.
type Store interface {
	// Save appends one entry and enforces the capacity limit; the oldest
	// entries beyond the limit are evicted.
	Save(ctx context.Context, e Entry) error

	// Query returns entries matching f, sorted newest-first.
	Query(ctx context.Context, f Filter) ([]Entry, error)

	// Clear removes all entries unconditionally.
	Clear(ctx context.Context) error

	// Stats computes a snapshot of the store contents.
	Stats(ctx context.Context) (StorageStats, error)

	Close() error
}

// StoreOptions tunes the capability probe in Open.
type StoreOptions struct {
	MaxEntries int          // capacity limit (DefaultMaxEntries when 0)
	Diag       *slog.Logger // destination for degrade notices (nil = discard)
}

// Open selects a storage backend for the given directory. It tries the
// SQLite store first and degrades silently to the JSON file store when the
// database cannot be opened; the caller only sees the failure through
// Stats().Backend.
func Open(dir string, opts StoreOptions) (Store, error) {
	max := opts.MaxEntries
	if max <= 0 {
		max = DefaultMaxEntries
	}

	st, err := OpenSQLiteStore(filepath.Join(dir, "logs.db"), max)
	if err == nil {
		return st, nil
	}
	if opts.Diag != nil {
		opts.Diag.Warn("sqlite store unavailable, falling back to file store", "error", err)
	}
	return OpenFileStore(filepath.Join(dir, "logs.json"), max)
}

// sortNewestFirst orders entries by timestamp descending. Ties keep their
// relative order so same-timestamp entries stay in insertion order.
func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

// estimateSize approximates storage usage by serialized length. This is a
// proxy, not actual backend byte usage.
func estimateSize(entries []Entry) int {
	if len(entries) == 0 {
		return 0
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return 0
	}
	return len(data)
}

// statsFromEntries computes the snapshot shared by both backends.
func statsFromEntries(entries []Entry, backend Backend) StorageStats {
	stats := StorageStats{
		TotalLogs:    len(entries),
		SizeEstimate: estimateSize(entries),
		Backend:      backend,
	}
	for _, e := range entries {
		if stats.Oldest.IsZero() || e.Timestamp.Before(stats.Oldest) {
			stats.Oldest = e.Timestamp
		}
		if stats.Newest.IsZero() || e.Timestamp.After(stats.Newest) {
			stats.Newest = e.Timestamp
		}
	}
	return stats
}
