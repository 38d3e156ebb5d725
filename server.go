package kanshilog

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"
)

// Server is an in-memory implementation of the log service endpoints the
// SyncClient talks to. It backs the package tests and is usable as a
// standalone peer for self-contained deployments.
type Server struct {
	mu      sync.RWMutex
	cfg     SyncConfig
	synced  []Entry
	batches []int // sizes of received sync batches, in order
	backups map[string]backupPayload
	metas   map[string]BackupMetadata
	decoder *zstd.Decoder
}

// NewServer creates a server handing out cfg as its sync configuration.
func NewServer(cfg SyncConfig) (*Server, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Server{
		cfg:     cfg.withDefaults(),
		backups: make(map[string]backupPayload),
		metas:   make(map[string]BackupMetadata),
		decoder: dec,
	}, nil
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/api/logs/sync-config", s.handleSyncConfig)
	r.Post("/api/logs/sync", s.handleSync)
	r.Post("/api/logs/backup", s.handleCreateBackup)
	r.Get("/api/logs/backup/{id}", s.handleGetBackup)
	r.Get("/api/logs/backups", s.handleListBackups)

	return r
}

// SyncedEntries returns a copy of everything received via /api/logs/sync.
func (s *Server) SyncedEntries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.synced))
	copy(out, s.synced)
	return out
}

// BatchSizes returns the size of each received sync batch, in arrival order.
func (s *Server) BatchSizes() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *Server) handleSyncConfig(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

// readBody decompresses zstd request bodies transparently.
func (s *Server) readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if r.Header.Get("Content-Encoding") == "zstd" {
		body, err = s.decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress body: %w", err)
		}
	}
	return body, nil
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid body: %v", err), http.StatusBadRequest)
		return
	}

	var entries []Entry
	if err := json.Unmarshal(body, &entries); err != nil {
		http.Error(w, fmt.Sprintf("Invalid batch: %v", err), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.synced = append(s.synced, entries...)
	s.batches = append(s.batches, len(entries))
	s.mu.Unlock()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "accepted",
		"received": len(entries),
	})
}

func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid body: %v", err), http.StatusBadRequest)
		return
	}

	var payload backupPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, fmt.Sprintf("Invalid backup: %v", err), http.StatusBadRequest)
		return
	}

	meta := BackupMetadata{
		ID:         uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Size:       len(body),
		EntryCount: len(payload.Entries),
		Source:     payload.Source,
		Version:    "1",
	}

	s.mu.Lock()
	s.backups[meta.ID] = payload
	s.metas[meta.ID] = meta
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(meta)
}

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.RLock()
	payload, ok := s.backups[id]
	s.mu.RUnlock()

	if !ok {
		http.Error(w, "backup not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleListBackups(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	metas := make([]BackupMetadata, 0, len(s.metas))
	for _, m := range s.metas {
		metas = append(metas, m)
	}
	s.mu.RUnlock()

	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.Before(metas[j].CreatedAt) })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(metas)
}

// ListenAndServe starts the reference service on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
