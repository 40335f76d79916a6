package store

import (
	"context"
	"fmt"
	"time"

	"github.com/example/tcfbot/internal/domain"
)

func (s *Store) ReservationExists(ctx context.Context, email, timeShiftUID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM reservations WHERE account_email=$1 AND time_shift_uid=$2)`,
		email, timeShiftUID)
}

// InsertReservation records r once; a repeat for the same account and window
// is a no-op.
func (s *Store) InsertReservation(ctx context.Context, r domain.Reservation) error {
	ok, err := s.ReservationExists(ctx, r.Account.Email, r.Window.TimeShiftUID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	err = s.db.Exec(ctx, `
INSERT INTO reservations(account_email, event_uid, time_shift_uid, created_at)
VALUES ($1,$2,$3,$4)`,
		r.Account.Email, r.Event.UID, r.Window.TimeShiftUID, created.UTC())
	if err != nil {
		return fmt.Errorf("insert reservation for %s: %w", r.Account.Email, err)
	}
	return nil
}

// Reservations lists claimed slots, newest first, joined with their records.
func (s *Store) Reservations(ctx context.Context) ([]domain.Reservation, error) {
	rows, err := s.db.Query(ctx, `
SELECT a.email, a.password, a.antenna_id, a.exam_id, a.motivation_id, a.reserved,
       e.uid, e.title, e.start_date, e.price, e.antenna_id, e.antenna_name, e.venue, e.status, e.is_full,
       w.time_shift_uid, w.event_uid, w.date_from, w.date_to, w.is_morning,
       r.created_at
FROM reservations r
JOIN accounts a ON a.email = r.account_email
JOIN events e ON e.uid = r.event_uid
JOIN payment_windows w ON w.time_shift_uid = r.time_shift_uid
ORDER BY r.created_at DESC, r.id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		var r domain.Reservation
		a, e, w := &r.Account, &r.Event, &r.Window
		if err := rows.Scan(
			&a.Email, &a.Password, &a.Antenna, &a.Exam, &a.Motivation, &a.Reserved,
			&e.UID, &e.Title, &e.StartDate, &e.Price, &e.AntennaID, &e.AntennaName, &e.Local, &e.Status, &e.Full,
			&w.TimeShiftUID, &w.EventUID, &w.DateFrom, &w.DateTo, &w.IsMorning,
			&r.CreatedAt,
		); err != nil {
			return nil, err
		}
		// listings never need the credential
		a.Password = ""
		out = append(out, r)
	}
	return out, rows.Err()
}
