// Package ledger is the SQLite-backed event log: time entries, the project
// catalog, file activity, imported commits and suggestion feedback.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL UNIQUE,
	description        TEXT NOT NULL DEFAULT '',
	directory_patterns TEXT NOT NULL DEFAULT '[]',
	repositories       TEXT NOT NULL DEFAULT '[]',
	default_task       TEXT NOT NULL DEFAULT '',
	created_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(id),
	name          TEXT NOT NULL,
	file_patterns TEXT NOT NULL DEFAULT '[]',
	created_at    INTEGER NOT NULL,
	UNIQUE(project_id, name)
);

CREATE TABLE IF NOT EXISTS time_entries (
	id         TEXT PRIMARY KEY,
	project    TEXT NOT NULL,
	task       TEXT NOT NULL DEFAULT '',
	notes      TEXT NOT NULL DEFAULT '',
	start_time INTEGER NOT NULL,
	end_time   INTEGER,
	status     TEXT NOT NULL CHECK (status IN ('active', 'paused', 'completed', 'stopped')),
	planned_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	CHECK ((end_time IS NULL) = (status IN ('active', 'paused'))),
	CHECK (end_time IS NULL OR end_time >= start_time)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_one_open ON time_entries((end_time IS NULL)) WHERE end_time IS NULL;
CREATE INDEX IF NOT EXISTS idx_entries_start ON time_entries(start_time);

CREATE TABLE IF NOT EXISTS git_commits (
	hash                 TEXT PRIMARY KEY,
	timestamp            INTEGER NOT NULL,
	message              TEXT NOT NULL DEFAULT '',
	author               TEXT NOT NULL DEFAULT '',
	repository           TEXT NOT NULL DEFAULT '',
	linked_time_entry_id TEXT REFERENCES time_entries(id) ON DELETE SET NULL
);

CREATE INDEX IF NOT EXISTS idx_commits_repo ON git_commits(repository);

CREATE TABLE IF NOT EXISTS entry_commits (
	entry_id    TEXT NOT NULL REFERENCES time_entries(id) ON DELETE CASCADE,
	commit_hash TEXT NOT NULL REFERENCES git_commits(hash),
	UNIQUE(entry_id, commit_hash)
);

CREATE TABLE IF NOT EXISTS file_activity (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp          INTEGER NOT NULL,
	file_path          TEXT NOT NULL,
	event_type         TEXT NOT NULL CHECK (event_type IN ('add', 'change', 'unlink')),
	project_suggestion TEXT NOT NULL DEFAULT '',
	task_suggestion    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_activity_ts ON file_activity(timestamp);

CREATE TABLE IF NOT EXISTS suggestion_feedback (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project    TEXT NOT NULL,
	task       TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	accepted   INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
`

// DB wraps a sql.DB with ledger operations. It is the only writer of
// persistent state; mu serializes every write.
type DB struct {
	conn *sql.DB
	mu   sync.Mutex
	now  func() time.Time
}

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the clock used for timestamps and validation.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	db := &DB{conn: conn, now: time.Now}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func encodeList(items []string) string {
	if items == nil {
		items = []string{}
	}
	data, _ := json.Marshal(items)
	return string(data)
}

func decodeList(raw string) []string {
	out := []string{}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
