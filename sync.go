package kanshilog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/segmentio/encoding/json"
	"github.com/valyala/fastjson"
)

const syncRetryBaseDelay = 500 * time.Millisecond

// SyncClient pushes un-synced entries to the remote log service and
// supports full backup/restore. One mutex serializes Sync, CreateBackup,
// and RestoreFromBackup so overlapping triggers (manual vs. periodic)
// never interleave partial cycles.
type SyncClient struct {
	store     Store
	baseURL   string
	client    *http.Client
	cfg       SyncConfig
	statePath string
	diag      *slog.Logger
	encoder   *zstd.Encoder
	source    string

	mu sync.Mutex // serializes sync/backup/restore
}

// SyncOption customises client instantiation.
type SyncOption func(*SyncClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) SyncOption {
	return func(c *SyncClient) {
		if h != nil {
			c.client = h
		}
	}
}

// WithSyncConfig skips the remote config fetch and uses cfg directly.
func WithSyncConfig(cfg SyncConfig) SyncOption {
	return func(c *SyncClient) { c.cfg = cfg.withDefaults() }
}

// WithSyncDiagnostics routes periodic-cycle warnings to diag.
func WithSyncDiagnostics(diag *slog.Logger) SyncOption {
	return func(c *SyncClient) { c.diag = diag }
}

// WithBackupSource labels backups created by this client.
func WithBackupSource(source string) SyncOption {
	return func(c *SyncClient) { c.source = source }
}

// NewSyncClient builds a client against baseURL, persisting sync state at
// statePath. Unless WithSyncConfig is given, the configuration is fetched
// once from the remote service, falling back to defaults on any failure.
func NewSyncClient(store Store, baseURL, statePath string, opts ...SyncOption) (*SyncClient, error) {
	c := &SyncClient{
		store:     store,
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
		statePath: statePath,
		source:    "kanshilog",
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.cfg == (SyncConfig{}) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		cfg, err := FetchSyncConfig(ctx, c.client, baseURL)
		cancel()
		if err != nil {
			if c.diag != nil {
				c.diag.Warn("using default sync config", "error", err)
			}
			cfg = DefaultSyncConfig()
		}
		c.cfg = SyncConfigFromEnv(cfg)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	c.encoder = enc

	return c, nil
}

// Config returns the effective sync configuration.
func (c *SyncClient) Config() SyncConfig {
	return c.cfg
}

// Close releases the compression encoder. The periodic loop is stopped by
// cancelling the context passed to Run, not by Close.
func (c *SyncClient) Close() error {
	return c.encoder.Close()
}

// syncState is the single-record state file next to the store.
type syncState struct {
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

func (c *SyncClient) loadState() (syncState, error) {
	var st syncState
	data, err := os.ReadFile(c.statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read sync state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("decode sync state: %w", err)
	}
	return st, nil
}

func (c *SyncClient) saveState(st syncState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	tmp := c.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	if err := os.Rename(tmp, c.statePath); err != nil {
		return fmt.Errorf("replace sync state: %w", err)
	}
	return nil
}

// Sync sends all entries newer than the last successful sync in fixed-size
// batches, strictly in ascending timestamp order, and returns the number
// of entries shipped. A batch that still fails after the configured
// retries aborts the remaining batches of this cycle.
func (c *SyncClient) Sync(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.loadState()
	if err != nil {
		return 0, err
	}

	filter := Filter{}
	if !st.LastSyncedAt.IsZero() {
		// The watermark is exclusive. Entry timestamps come from time.Now
		// at nanosecond precision, so a later save cannot collide with it;
		// a backend that coarsens timestamps would need >= plus dedup here.
		filter.Start = st.LastSyncedAt.Add(time.Nanosecond)
	}
	pending, err := c.store.Query(ctx, filter)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	// Query returns newest-first; the wire wants ascending.
	for i, j := 0, len(pending)-1; i < j; i, j = i+1, j-1 {
		pending[i], pending[j] = pending[j], pending[i]
	}

	batch := c.cfg.BatchSize
	for offset := 0; offset < len(pending); offset += batch {
		end := offset + batch
		if end > len(pending) {
			end = len(pending)
		}
		if err := c.sendBatch(ctx, pending[offset:end]); err != nil {
			return offset, fmt.Errorf("sync batch %d: %w", offset/batch+1, err)
		}
	}

	newest := pending[len(pending)-1].Timestamp
	if err := c.saveState(syncState{LastSyncedAt: newest}); err != nil {
		return len(pending), err
	}
	return len(pending), nil
}

// sendBatch posts one batch, retrying with exponential backoff up to the
// configured retry count.
func (c *SyncClient) sendBatch(ctx context.Context, entries []Entry) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := syncRetryBaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if lastErr = c.postEntries(ctx, entries); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("after %d retries: %w", c.cfg.MaxRetries, lastErr)
}

func (c *SyncClient) postEntries(ctx context.Context, entries []Entry) error {
	payload, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	var body []byte
	if c.cfg.Compress {
		body = c.encoder.EncodeAll(payload, nil)
	} else {
		body = payload
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/logs/sync", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Compress {
		req.Header.Set("Content-Encoding", "zstd")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

// backupPayload is the document POSTed to /api/logs/backup.
type backupPayload struct {
	Source    string       `json:"source"`
	CreatedAt time.Time    `json:"createdAt"`
	Stats     StorageStats `json:"stats"`
	Entries   []Entry      `json:"entries"`
}

// CreateBackup snapshots the entire local log set plus stats to the remote
// service and returns the backup metadata it assigned.
func (c *SyncClient) CreateBackup(ctx context.Context) (BackupMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.store.Query(ctx, Filter{})
	if err != nil {
		return BackupMetadata{}, err
	}
	stats, err := c.store.Stats(ctx)
	if err != nil {
		return BackupMetadata{}, err
	}

	payload, err := json.Marshal(backupPayload{
		Source:    c.source,
		CreatedAt: time.Now().UTC(),
		Stats:     stats,
		Entries:   entries,
	})
	if err != nil {
		return BackupMetadata{}, fmt.Errorf("encode backup: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/logs/backup", bytes.NewReader(payload))
	if err != nil {
		return BackupMetadata{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return BackupMetadata{}, fmt.Errorf("post backup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return BackupMetadata{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return BackupMetadata{}, fmt.Errorf("read backup response: %w", err)
	}
	return parseBackupMetadata(body)
}

// parseBackupMetadata reads the named fields out of an otherwise opaque
// backup record.
func parseBackupMetadata(body []byte) (BackupMetadata, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		return BackupMetadata{}, fmt.Errorf("parse backup metadata: %w", err)
	}
	return backupMetadataFromValue(v), nil
}

func backupMetadataFromValue(v *fastjson.Value) BackupMetadata {
	meta := BackupMetadata{
		ID:         string(v.GetStringBytes("id")),
		Size:       v.GetInt("size"),
		EntryCount: v.GetInt("entryCount"),
		Source:     string(v.GetStringBytes("source")),
		Version:    string(v.GetStringBytes("version")),
	}
	if raw := v.GetStringBytes("createdAt"); len(raw) > 0 {
		if ts, err := time.Parse(time.RFC3339Nano, string(raw)); err == nil {
			meta.CreatedAt = ts
		}
	}
	return meta
}

// ListBackups returns the metadata of all backups known to the service.
func (c *SyncClient) ListBackups(ctx context.Context) ([]BackupMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/logs/backups", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backup list: %w", err)
	}

	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse backup list: %w", err)
	}
	items, err := v.Array()
	if err != nil {
		return nil, fmt.Errorf("parse backup list: %w", err)
	}
	out := make([]BackupMetadata, 0, len(items))
	for _, item := range items {
		out = append(out, backupMetadataFromValue(item))
	}
	return out, nil
}

// RestoreFromBackup fetches a backup by id, clears local storage, and
// replays each entry back into the store sequentially. Returns the number
// of restored entries.
func (c *SyncClient) RestoreFromBackup(ctx context.Context, id string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/logs/backup/"+id, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch backup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}

	var payload backupPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode backup: %w", err)
	}

	if err := c.store.Clear(ctx); err != nil {
		return 0, err
	}
	for i, entry := range payload.Entries {
		if err := c.store.Save(ctx, entry); err != nil {
			return i, fmt.Errorf("replay entry %d: %w", i, err)
		}
	}
	return len(payload.Entries), nil
}

// Run drives periodic syncing until ctx is cancelled. Failures of an
// automatic cycle are logged as warnings and the cycle is skipped; the
// next scheduled attempt proceeds normally.
func (c *SyncClient) Run(ctx context.Context) {
	if !c.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.Sync(ctx); err != nil {
				if c.diag != nil {
					c.diag.Warn("periodic log sync failed", "error", err)
				}
			} else if n > 0 && c.diag != nil {
				c.diag.Info("periodic log sync complete", "entries", n)
			}
		}
	}
}
