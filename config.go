package kanshilog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/valyala/fastjson"
)

// NewDiagnosticLogger returns a JSON slog.Logger for the module's own
// diagnostics, tagged with the given service name.
func NewDiagnosticLogger(service string, level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}

// envInt retrieves an environment variable as integer or returns fallback.
func envInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fallback
		}
		return parsed
	}
	return fallback
}

// envBool retrieves an environment variable as bool or returns fallback.
func envBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return parsed
	}
	return fallback
}

// SyncConfig controls the backup/sync client.
type SyncConfig struct {
	Enabled    bool          `json:"enabled"`
	Interval   time.Duration `json:"-"`
	MaxRetries int           `json:"maxRetries"`
	BatchSize  int           `json:"batchSize"`
	Compress   bool          `json:"compress"`

	// IntervalMinutes mirrors Interval on the wire.
	IntervalMinutes int `json:"intervalMinutes"`
}

// DefaultSyncConfig returns the hard-coded fallback used when the remote
// service cannot provide a configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Enabled:         true,
		Interval:        5 * time.Minute,
		IntervalMinutes: 5,
		MaxRetries:      3,
		BatchSize:       100,
		Compress:        false,
	}
}

// withDefaults fills zero fields so a partial remote config stays usable.
func (c SyncConfig) withDefaults() SyncConfig {
	def := DefaultSyncConfig()
	if c.IntervalMinutes > 0 {
		c.Interval = time.Duration(c.IntervalMinutes) * time.Minute
	}
	if c.Interval <= 0 {
		c.Interval = def.Interval
		c.IntervalMinutes = def.IntervalMinutes
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	return c
}

// SyncConfigFromEnv applies KANSHILOG_SYNC_* environment overrides.
func SyncConfigFromEnv(base SyncConfig) SyncConfig {
	base.Enabled = envBool("KANSHILOG_SYNC_ENABLED", base.Enabled)
	base.IntervalMinutes = envInt("KANSHILOG_SYNC_INTERVAL_MINUTES", base.IntervalMinutes)
	base.MaxRetries = envInt("KANSHILOG_SYNC_MAX_RETRIES", base.MaxRetries)
	base.BatchSize = envInt("KANSHILOG_SYNC_BATCH_SIZE", base.BatchSize)
	base.Compress = envBool("KANSHILOG_SYNC_COMPRESS", base.Compress)
	return base.withDefaults()
}

// FetchSyncConfig requests /api/logs/sync-config and reads the named
// fields out of the otherwise opaque response. Anything missing keeps the
// default; any failure is the caller's cue to fall back entirely.
func FetchSyncConfig(ctx context.Context, client *http.Client, baseURL string) (SyncConfig, error) {
	cfg := DefaultSyncConfig()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/logs/sync-config", nil)
	if err != nil {
		return cfg, fmt.Errorf("create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return cfg, fmt.Errorf("fetch sync config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return cfg, fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cfg, fmt.Errorf("read sync config: %w", err)
	}

	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	if err != nil {
		return cfg, fmt.Errorf("parse sync config: %w", err)
	}

	if v.Exists("enabled") {
		cfg.Enabled = v.GetBool("enabled")
	}
	if n := v.GetInt("intervalMinutes"); n > 0 {
		cfg.IntervalMinutes = n
	}
	if n := v.GetInt("maxRetries"); n > 0 {
		cfg.MaxRetries = n
	}
	if n := v.GetInt("batchSize"); n > 0 {
		cfg.BatchSize = n
	}
	if v.Exists("compress") {
		cfg.Compress = v.GetBool("compress")
	}

	return cfg.withDefaults(), nil
}
