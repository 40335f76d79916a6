package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Lite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:" is
// accepted for throwaway databases.
func OpenSQLite(ctx context.Context, path string) (*Lite, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps a :memory: database alive across calls
	d.SetMaxOpenConns(1)
	d.SetMaxIdleConns(1)
	d.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := d.ExecContext(ctx, p); err != nil {
			_ = d.Close()
			return nil, err
		}
	}
	return &Lite{db: d}, nil
}

func (d *Lite) Dialect() Dialect { return SQLite }

func (d *Lite) Close() {
	_ = d.db.Close()
}

func (d *Lite) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return d.db.PingContext(ctx)
}

func (d *Lite) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.db.ExecContext(ctx, rebind(query), args...)
	return err
}

func (d *Lite) QueryRow(ctx context.Context, query string, args ...any) Row {
	return d.db.QueryRowContext(ctx, rebind(query), args...)
}

func (d *Lite) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := d.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return liteRows{rows}, nil
}

type liteRows struct{ *sql.Rows }

func (r liteRows) Close() { _ = r.Rows.Close() }

var pgParam = regexp.MustCompile(`\$(\d+)`)

// rebind turns $N placeholders into SQLite's numbered ?N form.
func rebind(query string) string {
	return pgParam.ReplaceAllString(query, "?$1")
}
