// Package history records pipeline runs in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one pipeline execution.
type Run struct {
	ID         string    `json:"id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Count      int       `json:"count"`
	Schema     string    `json:"schema,omitempty"`

	// Display window the batch was filtered against, as YYYY-MM-DD.
	WindowStart string `json:"window_start,omitempty"`
	WindowEnd   string `json:"window_end,omitempty"`

	SourceName string `json:"source_name,omitempty"`
	SourceHash string `json:"source_sha256,omitempty"`
	Written    bool   `json:"written"`
}

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id           TEXT PRIMARY KEY,
  trigger      TEXT NOT NULL,
  started_at   DATETIME NOT NULL,
  finished_at  DATETIME NOT NULL,
  status       TEXT NOT NULL,
  message      TEXT NOT NULL DEFAULT '',
  count        INTEGER NOT NULL DEFAULT 0,
  schema       TEXT,
  window_start TEXT,
  window_end   TEXT,
  source_name  TEXT,
  source_hash  TEXT,
  written      INTEGER NOT NULL CHECK (written IN (0,1))
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Record stores r.
func (d *DB) Record(ctx context.Context, r Run) error {
	_, err := d.sql.ExecContext(ctx, `INSERT INTO runs(id, trigger, started_at, finished_at, status, message, count, schema, window_start, window_end, source_name, source_hash, written) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Trigger, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Status, r.Message, r.Count,
		nullIfEmpty(r.Schema), nullIfEmpty(r.WindowStart), nullIfEmpty(r.WindowEnd), nullIfEmpty(r.SourceName), nullIfEmpty(r.SourceHash), boolToInt(r.Written))
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.QueryContext(ctx, `SELECT id, trigger, started_at, finished_at, status, message, count, schema, window_start, window_end, source_name, source_hash, written FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                    Run
			schema, wStart, wEnd sql.NullString
			name, hash           sql.NullString
			written              int
		)
		if err := rows.Scan(&r.ID, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.Status, &r.Message, &r.Count, &schema, &wStart, &wEnd, &name, &hash, &written); err != nil {
			return nil, err
		}
		r.Schema = schema.String
		r.WindowStart = wStart.String
		r.WindowEnd = wEnd.String
		r.SourceName = name.String
		r.SourceHash = hash.String
		r.Written = written == 1
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
