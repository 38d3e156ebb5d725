package kanshilog

import (
	"errors"
	"fmt"
	"time"
)

// Level is the severity of a log entry. Lower values are more severe,
// matching the numeric levels the dashboard backend expects.
type Level int8

// Severity levels, most severe first.
const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var levelNames = map[Level]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
}

// Levels lists all severities in ascending numeric order.
var Levels = []Level{LevelError, LevelWarn, LevelInfo, LevelDebug}

// String returns the upper-case name of the level, or "UNKNOWN".
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel maps a level name back to its Level value.
func ParseLevel(name string) (Level, error) {
	for lv, n := range levelNames {
		if n == name {
			return lv, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", name)
}

// Entry is a single immutable log record.
type Entry struct {
	Level     Level          `json:"level"`
	LevelName string         `json:"levelName"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
	Source    string         `json:"source,omitempty"`
	SessionID string         `json:"sessionId"`
}

// normalize fills derived fields and forces UTC timestamps so that
// entries compare and serialize consistently regardless of origin.
func (e Entry) normalize() Entry {
	e.LevelName = e.Level.String()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	return e
}

// Filter selects entries from a Store. Zero values mean "no constraint".
type Filter struct {
	Level  *Level    // exact level match
	Start  time.Time // inclusive lower timestamp bound
	End    time.Time // inclusive upper timestamp bound
	Source string    // exact source match
	Limit  int       // maximum number of results (0 = unlimited)
}

func (f Filter) matches(e Entry) bool {
	if f.Level != nil && e.Level != *f.Level {
		return false
	}
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	return true
}

// Backend identifies which storage implementation is active.
type Backend string

// Available storage backends.
const (
	BackendSQLite Backend = "sqlite"
	BackendFile   Backend = "file"
)

// StorageStats is a computed snapshot of the store, never persisted.
type StorageStats struct {
	TotalLogs    int       `json:"totalLogs"`
	SizeEstimate int       `json:"sizeEstimate"`
	Oldest       time.Time `json:"oldestTimestamp"`
	Newest       time.Time `json:"newestTimestamp"`
	Backend      Backend   `json:"backend"`
}

// BackupMetadata describes a remote backup. The backend owns the full
// record shape; only these named fields are interpreted.
type BackupMetadata struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	Size       int       `json:"size"`
	EntryCount int       `json:"entryCount"`
	Source     string    `json:"source,omitempty"`
	Version    string    `json:"version,omitempty"`
}

// ErrStorage wraps save/query failures from either backend. Callers decide
// whether to surface it; nothing in this package treats it as fatal.
var ErrStorage = errors.New("log storage error")

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
