package kanshilog

import (
	"context"
	"testing"
	"time"
)

func TestSystem_WiresComponents(t *testing.T) {
	_, ts := newTestServer(t, DefaultSyncConfig())

	sys, err := NewSystem(Config{
		Dir:     t.TempDir(),
		Source:  "dashboard",
		SyncURL: ts.URL,
	})
	if err != nil {
		t.Fatalf("NewSystem failed: %v", err)
	}
	defer sys.Close()

	if sys.Store == nil || sys.Logger == nil || sys.Exporter == nil || sys.Sync == nil {
		t.Fatal("Expected all components wired")
	}

	ctx := context.Background()
	sys.Logger.Info(ctx, "person detected", String("zone", "desk"))

	entries, err := sys.Store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Source != "dashboard" {
		t.Errorf("Expected source dashboard, got %s", entries[0].Source)
	}

	if n, err := sys.Sync.Sync(ctx); err != nil || n != 1 {
		t.Fatalf("Sync through system: n=%d err=%v", n, err)
	}
}

func TestSystem_NoSyncWithoutURL(t *testing.T) {
	sys, err := NewSystem(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewSystem failed: %v", err)
	}
	defer sys.Close()

	if sys.Sync != nil {
		t.Error("Expected no sync client without a sync URL")
	}

	// Run must return immediately when sync is not configured.
	done := make(chan struct{})
	go func() {
		sys.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return without sync configured")
	}
}

func TestSystem_LevelThreshold(t *testing.T) {
	lv := LevelError
	sys, err := NewSystem(Config{Dir: t.TempDir(), Level: &lv})
	if err != nil {
		t.Fatalf("NewSystem failed: %v", err)
	}
	defer sys.Close()

	ctx := context.Background()
	sys.Logger.Debug(ctx, "dropped")
	sys.Logger.Error(ctx, "kept")

	entries, err := sys.Store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "kept" {
		t.Errorf("Threshold not applied: %+v", entries)
	}
}
