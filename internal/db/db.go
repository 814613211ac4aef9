package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// pragmas configure every store connection. Several termctl processes may
// share one database file, so writers wait for the lock instead of failing
// and readers do not block on them.
var pragmas = []struct {
	stmt string
	what string
}{
	{`PRAGMA busy_timeout = 5000`, "set busy timeout"},
	{`PRAGMA journal_mode = WAL`, "enable write-ahead log"},
	{`PRAGMA synchronous = NORMAL`, "set synchronous mode"},
}

// DB is the local client store: last known terminal ids, exec-mode command
// history and activity excerpts.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if needed) the sqlite database at path and applies
// pending migrations. The directory is created private to the user since
// command history is stored there.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create database directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %q: %w", path, err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := prepare(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &DB{conn: conn}, nil
}

func prepare(ctx context.Context, conn *sql.DB) error {
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p.stmt); err != nil {
			return fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}
	return RunMigrations(ctx, conn)
}

func (d *DB) SQL() *sql.DB {
	return d.conn
}

func (d *DB) Terminals() *TerminalRepo { return NewTerminalRepo(d.conn) }

func (d *DB) History() *HistoryRepo { return NewHistoryRepo(d.conn) }

func (d *DB) Activity() *ActivityRepo { return NewActivityRepo(d.conn) }

func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
