package kanshilog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	_ "modernc.org/sqlite" // Import SQLite driver for database/sql
)

type sqliteStore struct {
	db  *sql.DB
	max int
}

// OpenSQLiteStore opens/creates a SQLite DB and ensures schema + PRAGMAs.
func OpenSQLiteStore(dsn string, maxEntries int) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	st := &sqliteStore{db: db, max: maxEntries}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA wal_autocheckpoint=1000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS logs (
  id      INTEGER PRIMARY KEY,
  ts      INTEGER NOT NULL,        -- unix nanos, UTC
  level   INTEGER NOT NULL,
  source  TEXT    NOT NULL DEFAULT '',
  session TEXT    NOT NULL,
  msg     TEXT    NOT NULL,
  ctx     TEXT                     -- JSON object, NULL when absent
);
CREATE INDEX IF NOT EXISTS logs_ts_idx ON logs(ts);
CREATE INDEX IF NOT EXISTS logs_level_idx ON logs(level);
CREATE INDEX IF NOT EXISTS logs_session_idx ON logs(session);
CREATE INDEX IF NOT EXISTS logs_source_idx ON logs(source);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

// Save inserts an entry and trims everything but the newest max rows in
// the same transaction, so readers never observe the store over capacity.
func (s *sqliteStore) Save(ctx context.Context, e Entry) error {
	e = e.normalize()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin save", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ctxJSON sql.NullString
	if len(e.Context) > 0 {
		data, err := json.Marshal(e.Context)
		if err != nil {
			return storageErr("encode context", err)
		}
		ctxJSON = sql.NullString{String: string(data), Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO logs(ts, level, source, session, msg, ctx) VALUES(?, ?, ?, ?, ?, ?)`,
		e.Timestamp.UnixNano(), int(e.Level), e.Source, e.SessionID, e.Message, ctxJSON); err != nil {
		return storageErr("insert entry", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM logs WHERE id NOT IN (SELECT id FROM logs ORDER BY ts DESC, id DESC LIMIT ?)`,
		s.max); err != nil {
		return storageErr("enforce capacity", err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("commit save", err)
	}
	return nil
}

// Query returns matching entries sorted newest-first.
func (s *sqliteStore) Query(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	if f.Level != nil {
		conds = append(conds, "level = ?")
		args = append(args, int(*f.Level))
	}
	if !f.Start.IsZero() {
		conds = append(conds, "ts >= ?")
		args = append(args, f.Start.UnixNano())
	}
	if !f.End.IsZero() {
		conds = append(conds, "ts <= ?")
		args = append(args, f.End.UnixNano())
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}

	query := `SELECT ts, level, source, session, msg, ctx FROM logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query entries", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			ts      int64
			level   int
			ctxJSON sql.NullString
			e       Entry
		)
		if err := rows.Scan(&ts, &level, &e.Source, &e.SessionID, &e.Message, &ctxJSON); err != nil {
			return nil, storageErr("scan entry", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		e.Level = Level(level)
		e.LevelName = e.Level.String()
		if ctxJSON.Valid {
			if err := json.Unmarshal([]byte(ctxJSON.String), &e.Context); err != nil {
				return nil, storageErr("decode context", err)
			}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entries", err)
	}
	return out, nil
}

// Clear removes all entries.
func (s *sqliteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM logs`); err != nil {
		return storageErr("clear entries", err)
	}
	return nil
}

// Stats computes a snapshot from the current contents.
func (s *sqliteStore) Stats(ctx context.Context) (StorageStats, error) {
	entries, err := s.Query(ctx, Filter{})
	if err != nil {
		return StorageStats{}, err
	}
	return statsFromEntries(entries, BackendSQLite), nil
}

// Close closes the underlying database.
func (s *sqliteStore) Close() error {
	return s.db.Close()
}
