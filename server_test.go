package kanshilog

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestBackup_CreateAndRestoreRoundTrip(t *testing.T) {
	store, _ := openTestFileStore(t, 1000)
	ctx := context.Background()

	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	for i, lv := range []Level{LevelError, LevelInfo, LevelDebug} {
		e := testEntry(lv, "backup me", base.Add(time.Duration(i)*time.Second))
		e.Context = map[string]any{"i": float64(i)}
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	_, ts := newTestServer(t, DefaultSyncConfig())
	client := newTestSyncClient(t, store, ts.URL, DefaultSyncConfig())

	meta, err := client.CreateBackup(ctx)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}
	if meta.ID == "" {
		t.Fatal("Expected backup ID")
	}
	if meta.EntryCount != 3 {
		t.Errorf("Expected entryCount 3, got %d", meta.EntryCount)
	}
	if meta.Size == 0 {
		t.Error("Expected non-zero backup size")
	}
	if meta.CreatedAt.IsZero() {
		t.Error("Expected createdAt to be set")
	}

	// Wipe local state, then restore from the backup.
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	n, err := client.RestoreFromBackup(ctx, meta.ID)
	if err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 restored entries, got %d", n)
	}

	entries, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries after restore, got %d", len(entries))
	}
	if entries[0].Message != "backup me" {
		t.Errorf("Restored entry mismatch: %+v", entries[0])
	}
}

func TestBackup_RestoreReplacesLocalEntries(t *testing.T) {
	store, _ := openTestFileStore(t, 1000)
	ctx := context.Background()

	if err := store.Save(ctx, testEntry(LevelInfo, "original", time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC))); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, ts := newTestServer(t, DefaultSyncConfig())
	client := newTestSyncClient(t, store, ts.URL, DefaultSyncConfig())

	meta, err := client.CreateBackup(ctx)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}

	// Local mutations after the backup are dropped by restore.
	if err := store.Save(ctx, testEntry(LevelWarn, "added later", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := client.RestoreFromBackup(ctx, meta.ID); err != nil {
		t.Fatalf("RestoreFromBackup failed: %v", err)
	}

	entries, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "original" {
		t.Errorf("Expected only the backed-up entry, got %+v", entries)
	}
}

func TestBackup_ListBackups(t *testing.T) {
	store, _ := openTestFileStore(t, 1000)
	ctx := context.Background()
	if err := store.Save(ctx, testEntry(LevelInfo, "msg", time.Now())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	_, ts := newTestServer(t, DefaultSyncConfig())
	client := newTestSyncClient(t, store, ts.URL, DefaultSyncConfig())

	first, err := client.CreateBackup(ctx)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}
	second, err := client.CreateBackup(ctx)
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}

	backups, err := client.ListBackups(ctx)
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("Expected 2 backups, got %d", len(backups))
	}
	ids := map[string]bool{backups[0].ID: true, backups[1].ID: true}
	if !ids[first.ID] || !ids[second.ID] {
		t.Errorf("Backup IDs missing from list: %v", backups)
	}
}

func TestServer_UnknownBackupIs404(t *testing.T) {
	store, _ := openTestFileStore(t, 1000)
	_, ts := newTestServer(t, DefaultSyncConfig())
	client := newTestSyncClient(t, store, ts.URL, DefaultSyncConfig())

	if _, err := client.RestoreFromBackup(context.Background(), "no-such-backup"); err == nil {
		t.Fatal("Expected error for unknown backup ID")
	}
}

func TestServer_SyncConfigEndpoint(t *testing.T) {
	cfg := DefaultSyncConfig()
	cfg.BatchSize = 25
	_, ts := newTestServer(t, cfg)

	got, err := FetchSyncConfig(context.Background(), &http.Client{Timeout: 5 * time.Second}, ts.URL)
	if err != nil {
		t.Fatalf("FetchSyncConfig failed: %v", err)
	}
	if got.BatchSize != 25 {
		t.Errorf("Expected batch size 25, got %d", got.BatchSize)
	}
	if got.Interval != cfg.Interval {
		t.Errorf("Expected interval %v, got %v", cfg.Interval, got.Interval)
	}
}
