package kanshilog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestFileStore(t *testing.T, maxEntries int) (Store, string) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "kanshilog-filestore-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	path := filepath.Join(tmpDir, "logs.json")
	store, err := OpenFileStore(path, maxEntries)
	if err != nil {
		t.Fatalf("OpenFileStore failed: %v", err)
	}
	return store, path
}

func TestFileStore_SaveAndQuery(t *testing.T) {
	store, _ := openTestFileStore(t, 100)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if err := store.Save(ctx, testEntry(LevelInfo, "msg", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	entries, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("Expected 4 entries, got %d", len(entries))
	}
	if !entries[0].Timestamp.Equal(base.Add(3 * time.Second)) {
		t.Errorf("Expected newest first, got %v", entries[0].Timestamp)
	}
}

func TestFileStore_CapEviction(t *testing.T) {
	store, _ := openTestFileStore(t, 2)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for i, msg := range []string{"A", "B", "C"} {
		if err := store.Save(ctx, testEntry(LevelInfo, msg, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	entries, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries after eviction, got %d", len(entries))
	}
	if entries[0].Message != "C" || entries[1].Message != "B" {
		t.Errorf("Expected [C, B], got [%s, %s]", entries[0].Message, entries[1].Message)
	}
}

func TestFileStore_EvictionTieKeepsLatestSave(t *testing.T) {
	store, _ := openTestFileStore(t, 2)
	ctx := context.Background()

	// Three saves sharing one timestamp: the tie-break must drop the
	// earliest save, as the SQLite backend does via rowid ordering.
	ts := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for _, msg := range []string{"first", "second", "third"} {
		if err := store.Save(ctx, testEntry(LevelInfo, msg, ts)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	entries, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries after eviction, got %d", len(entries))
	}
	if entries[0].Message != "third" || entries[1].Message != "second" {
		t.Errorf("Expected [third, second], got [%s, %s]", entries[0].Message, entries[1].Message)
	}
}

func TestFileStore_FailuresWrapStorageError(t *testing.T) {
	store, _ := openTestFileStore(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Save(ctx, testEntry(LevelInfo, "late", time.Now())); !errors.Is(err, ErrStorage) {
		t.Errorf("Save with cancelled context: want ErrStorage, got %v", err)
	}
	if _, err := store.Query(ctx, Filter{}); !errors.Is(err, ErrStorage) {
		t.Errorf("Query with cancelled context: want ErrStorage, got %v", err)
	}
	if err := store.Clear(ctx); !errors.Is(err, ErrStorage) {
		t.Errorf("Clear with cancelled context: want ErrStorage, got %v", err)
	}
	if _, err := store.Stats(ctx); !errors.Is(err, ErrStorage) {
		t.Errorf("Stats with cancelled context: want ErrStorage, got %v", err)
	}
}

func TestFileStore_ReopenKeepsEntries(t *testing.T) {
	store, path := openTestFileStore(t, 100)
	ctx := context.Background()

	e := testEntry(LevelWarn, "persisted", time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))
	e.Context = map[string]any{"key": "value"}
	if err := store.Save(ctx, e); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenFileStore(path, 100)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	entries, err := reopened.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry after reopen, got %d", len(entries))
	}
	if entries[0].Message != "persisted" || entries[0].Context["key"] != "value" {
		t.Errorf("Entry did not survive reopen: %+v", entries[0])
	}
}

func TestFileStore_ClearAndStats(t *testing.T) {
	store, _ := openTestFileStore(t, 100)
	ctx := context.Background()

	if err := store.Save(ctx, testEntry(LevelError, "msg", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalLogs != 0 {
		t.Errorf("Expected 0 logs after clear, got %d", stats.TotalLogs)
	}
	if stats.Backend != BackendFile {
		t.Errorf("Expected file backend, got %s", stats.Backend)
	}
}

func TestOpen_PrefersSQLite(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "kanshilog-open-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	store, err := Open(tmpDir, StoreOptions{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Backend != BackendSQLite {
		t.Errorf("Expected sqlite backend, got %s", stats.Backend)
	}
}

func TestOpen_FallsBackToFileStore(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "kanshilog-fallback-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	// A directory where the database file should be makes the SQLite open
	// fail, which must degrade silently to the file store.
	if err := os.MkdirAll(filepath.Join(tmpDir, "logs.db"), 0700); err != nil {
		t.Fatal(err)
	}

	store, err := Open(tmpDir, StoreOptions{})
	if err != nil {
		t.Fatalf("Open should fall back, got error: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, testEntry(LevelInfo, "msg", time.Now())); err != nil {
		t.Fatalf("Save on fallback store failed: %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Backend != BackendFile {
		t.Errorf("Expected file backend after fallback, got %s", stats.Backend)
	}
}
