package kanshilog

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
)

// Config assembles a full log subsystem.
type Config struct {
	Dir        string       // storage directory (store, sync state)
	ExportDir  string       // destination for exported files ({Dir}/exports when empty)
	MaxEntries int          // store capacity (DefaultMaxEntries when 0)
	Level      *Level       // logger verbosity threshold (nil = LevelDebug)
	Source     string       // source stamped on entries created by Logger
	SyncURL    string       // remote log service base URL ("" disables sync)
	Sync       *SyncConfig  // explicit sync config; nil fetches from the remote
	Diag       *slog.Logger // module diagnostics (nil = silent)
}

// System is the explicit composition root owning the store, the logging
// facade, the exporter, and the sync client. Construct one per process
// instead of relying on package-level singletons, so tests can build
// isolated instances.
type System struct {
	Store    Store
	Logger   *Logger
	Exporter *Exporter
	Sync     *SyncClient

	diag *slog.Logger
}

// NewSystem probes storage, wires the components, and returns the root.
func NewSystem(cfg Config) (*System, error) {
	store, err := Open(cfg.Dir, StoreOptions{MaxEntries: cfg.MaxEntries, Diag: cfg.Diag})
	if err != nil {
		return nil, err
	}

	level := LevelDebug
	if cfg.Level != nil {
		level = *cfg.Level
	}

	exportDir := cfg.ExportDir
	if exportDir == "" {
		exportDir = filepath.Join(cfg.Dir, "exports")
	}

	sys := &System{
		Store: store,
		Logger: NewLogger(store,
			WithLevel(level),
			WithSource(cfg.Source),
			WithDiagnostics(cfg.Diag)),
		Exporter: NewExporter(store, exportDir),
		diag:     cfg.Diag,
	}

	if cfg.SyncURL != "" {
		opts := []SyncOption{WithSyncDiagnostics(cfg.Diag)}
		if cfg.Sync != nil {
			opts = append(opts, WithSyncConfig(*cfg.Sync))
		}
		sync, err := NewSyncClient(store, cfg.SyncURL, filepath.Join(cfg.Dir, "sync-state.json"), opts...)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		sys.Sync = sync
	}

	return sys, nil
}

// Run drives the periodic sync loop until ctx is cancelled. It is a no-op
// when sync is not configured.
func (s *System) Run(ctx context.Context) {
	if s.Sync != nil {
		s.Sync.Run(ctx)
	}
}

// Close releases the sync client and the storage backend.
func (s *System) Close() error {
	var errs []error
	if s.Sync != nil {
		if err := s.Sync.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
