package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/example/tcfbot/internal/internaltypes"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// Conn is the query surface shared by both backends. Statements use $N
// placeholders on either one.
type Conn interface {
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close()
	Exec(ctx context.Context, sql string, args ...any) error
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
}

type Row interface {
	Scan(dest ...any) error
}

type Rows interface {
	Close()
	Err() error
	Next() bool
	Scan(dest ...any) error
}

// Open connects to the backend named by driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string) (Conn, error) {
	switch Dialect(driver) {
	case Postgres, "pgx":
		return OpenPostgres(ctx, dsn)
	case SQLite, "":
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("db: unknown driver %q", driver)
	}
}

var ErrNotFound = internaltypes.ErrNotFound

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || isNoRows(err)
}

func WrapNotFound(err error) error {
	if err == nil {
		return nil
	}
	if isNoRows(err) {
		return ErrNotFound
	}
	return fmt.Errorf("db: %w", err)
}
