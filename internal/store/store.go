// Package store persists accounts, events, payment windows and reservations.
// Every write is an upsert keyed by the record's natural key, so syncing the
// same data twice leaves one row.
package store

import (
	"context"
	"fmt"

	"github.com/example/tcfbot/internal/db"
	"github.com/example/tcfbot/internal/secret"
)

type Store struct {
	db  db.Conn
	box *secret.Box
}

// New returns a store over d. A non-nil box seals account passwords at rest.
func New(d db.Conn, box *secret.Box) *Store {
	return &Store{db: d, box: box}
}

func (s *Store) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var ok bool
	if err := s.db.QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("db: %w", err)
	}
	return ok, nil
}
