package kanshilog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Field is a key/value pair attached to an entry's context map.
type Field struct {
	Key   string
	Value any
}

// String builds a string-valued field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int builds an int-valued field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Any builds a field holding an arbitrary value.
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger is the entry-creating facade over a Store. Every entry it saves
// carries the same session ID, generated once at construction.
type Logger struct {
	store     Store
	threshold Level
	source    string
	session   string
	diag      *slog.Logger
	now       func() time.Time
}

// LoggerOption customises Logger construction.
type LoggerOption func(*Logger)

// WithLevel sets the verbosity threshold; entries less severe than it are
// dropped. Default is LevelDebug (keep everything).
func WithLevel(threshold Level) LoggerOption {
	return func(l *Logger) { l.threshold = threshold }
}

// WithSource stamps every entry with the given source identifier.
func WithSource(source string) LoggerOption {
	return func(l *Logger) { l.source = source }
}

// WithDiagnostics routes store failures to the given slog logger instead
// of discarding them.
func WithDiagnostics(diag *slog.Logger) LoggerOption {
	return func(l *Logger) { l.diag = diag }
}

// NewLogger creates a facade bound to a Store with a fresh session ID.
func NewLogger(store Store, opts ...LoggerOption) *Logger {
	l := &Logger{
		store:     store,
		threshold: LevelDebug,
		session:   uuid.NewString(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SessionID returns the session identifier stamped on every entry.
func (l *Logger) SessionID() string {
	return l.session
}

// Enabled reports whether entries of the given level are kept.
func (l *Logger) Enabled(lv Level) bool {
	return lv <= l.threshold
}

// Error records an ERROR entry.
func (l *Logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelError, msg, fields)
}

// Warn records a WARN entry.
func (l *Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelWarn, msg, fields)
}

// Info records an INFO entry.
func (l *Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelInfo, msg, fields)
}

// Debug records a DEBUG entry.
func (l *Logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *Logger) log(ctx context.Context, lv Level, msg string, fields []Field) {
	if !l.Enabled(lv) {
		return
	}

	var kv map[string]any
	if len(fields) > 0 {
		kv = make(map[string]any, len(fields))
		for _, f := range fields {
			kv[f.Key] = f.Value
		}
	}

	e := Entry{
		Level:     lv,
		Message:   msg,
		Timestamp: l.now(),
		Context:   kv,
		Source:    l.source,
		SessionID: l.session,
	}

	// A failed save loses one entry, never the process.
	if err := l.store.Save(ctx, e); err != nil && l.diag != nil {
		l.diag.Warn("failed to persist log entry", "error", err)
	}
}
