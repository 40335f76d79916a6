package store

import (
	"context"
	"fmt"

	"github.com/example/tcfbot/internal/domain"
)

func (s *Store) EventExists(ctx context.Context, uid string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM events WHERE uid=$1)`, uid)
}

func (s *Store) InsertEvent(ctx context.Context, e domain.Event) error {
	return s.db.Exec(ctx, `
INSERT INTO events(uid, title, start_date, price, antenna_id, antenna_name, venue, status, is_full)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.UID, e.Title, e.StartDate, e.Price, e.AntennaID, e.AntennaName, e.Local, e.Status, e.Full)
}

func (s *Store) UpdateEvent(ctx context.Context, e domain.Event) error {
	return s.db.Exec(ctx, `
UPDATE events
SET title=$2, start_date=$3, price=$4, antenna_id=$5, antenna_name=$6, venue=$7, status=$8, is_full=$9,
    updated_at=CURRENT_TIMESTAMP
WHERE uid=$1`,
		e.UID, e.Title, e.StartDate, e.Price, e.AntennaID, e.AntennaName, e.Local, e.Status, e.Full)
}

// SaveEvents upserts each event by uid and stops at the first failure.
func (s *Store) SaveEvents(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		ok, err := s.EventExists(ctx, e.UID)
		if err != nil {
			return err
		}
		if ok {
			err = s.UpdateEvent(ctx, e)
		} else {
			err = s.InsertEvent(ctx, e)
		}
		if err != nil {
			return fmt.Errorf("save event %s: %w", e.UID, err)
		}
	}
	return nil
}

func (s *Store) Events(ctx context.Context) ([]domain.Event, error) {
	rows, err := s.db.Query(ctx, `
SELECT uid, title, start_date, price, antenna_id, antenna_name, venue, status, is_full
FROM events ORDER BY start_date, uid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.UID, &e.Title, &e.StartDate, &e.Price, &e.AntennaID, &e.AntennaName, &e.Local, &e.Status, &e.Full); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
