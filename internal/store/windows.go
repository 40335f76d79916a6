package store

import (
	"context"
	"fmt"

	"github.com/example/tcfbot/internal/domain"
)

func (s *Store) PaymentWindowExists(ctx context.Context, timeShiftUID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM payment_windows WHERE time_shift_uid=$1)`, timeShiftUID)
}

func (s *Store) InsertPaymentWindow(ctx context.Context, w domain.PaymentWindow) error {
	return s.db.Exec(ctx, `
INSERT INTO payment_windows(time_shift_uid, event_uid, date_from, date_to, is_morning)
VALUES ($1,$2,$3,$4,$5)`,
		w.TimeShiftUID, w.EventUID, w.DateFrom, w.DateTo, w.IsMorning)
}

func (s *Store) UpdatePaymentWindow(ctx context.Context, w domain.PaymentWindow) error {
	return s.db.Exec(ctx, `
UPDATE payment_windows
SET event_uid=$2, date_from=$3, date_to=$4, is_morning=$5, updated_at=CURRENT_TIMESTAMP
WHERE time_shift_uid=$1`,
		w.TimeShiftUID, w.EventUID, w.DateFrom, w.DateTo, w.IsMorning)
}

func (s *Store) SavePaymentWindows(ctx context.Context, windows []domain.PaymentWindow) error {
	for _, w := range windows {
		ok, err := s.PaymentWindowExists(ctx, w.TimeShiftUID)
		if err != nil {
			return err
		}
		if ok {
			err = s.UpdatePaymentWindow(ctx, w)
		} else {
			err = s.InsertPaymentWindow(ctx, w)
		}
		if err != nil {
			return fmt.Errorf("save payment window %s: %w", w.TimeShiftUID, err)
		}
	}
	return nil
}

func (s *Store) PaymentWindows(ctx context.Context) ([]domain.PaymentWindow, error) {
	rows, err := s.db.Query(ctx, `
SELECT time_shift_uid, event_uid, date_from, date_to, is_morning
FROM payment_windows ORDER BY event_uid, date_from`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PaymentWindow
	for rows.Next() {
		var w domain.PaymentWindow
		if err := rows.Scan(&w.TimeShiftUID, &w.EventUID, &w.DateFrom, &w.DateTo, &w.IsMorning); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
