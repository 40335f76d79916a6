package store

import (
	"context"
	"fmt"

	"github.com/example/tcfbot/internal/db"
	"github.com/example/tcfbot/internal/domain"
)

func (s *Store) AccountExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE email=$1)`, email)
}

func (s *Store) InsertAccount(ctx context.Context, a domain.Account) error {
	pw, err := s.box.Seal(a.Password)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
INSERT INTO accounts(email, password, antenna_id, exam_id, motivation_id, reserved)
VALUES ($1,$2,$3,$4,$5,$6)`,
		a.Email, pw, a.Antenna, a.Exam, a.Motivation, a.Reserved)
}

func (s *Store) UpdateAccount(ctx context.Context, a domain.Account) error {
	pw, err := s.box.Seal(a.Password)
	if err != nil {
		return err
	}
	return s.db.Exec(ctx, `
UPDATE accounts
SET password=$2, antenna_id=$3, exam_id=$4, motivation_id=$5, reserved=$6, updated_at=CURRENT_TIMESTAMP
WHERE email=$1`,
		a.Email, pw, a.Antenna, a.Exam, a.Motivation, a.Reserved)
}

// SaveAccount inserts the account or updates the row with the same email.
func (s *Store) SaveAccount(ctx context.Context, a domain.Account) error {
	ok, err := s.AccountExists(ctx, a.Email)
	if err != nil {
		return err
	}
	if ok {
		return s.UpdateAccount(ctx, a)
	}
	return s.InsertAccount(ctx, a)
}

func (s *Store) DeleteAccount(ctx context.Context, email string) error {
	ok, err := s.AccountExists(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return db.ErrNotFound
	}
	return s.db.Exec(ctx, `DELETE FROM accounts WHERE email=$1`, email)
}

func (s *Store) Account(ctx context.Context, email string) (domain.Account, error) {
	var a domain.Account
	err := s.db.QueryRow(ctx, `
SELECT email, password, antenna_id, exam_id, motivation_id, reserved
FROM accounts WHERE email=$1`, email).
		Scan(&a.Email, &a.Password, &a.Antenna, &a.Exam, &a.Motivation, &a.Reserved)
	if err != nil {
		return domain.Account{}, db.WrapNotFound(err)
	}
	if a.Password, err = s.box.Open(a.Password); err != nil {
		return domain.Account{}, fmt.Errorf("account %s: %w", a.Email, err)
	}
	return a, nil
}

// Accounts lists every account in insertion order.
func (s *Store) Accounts(ctx context.Context) ([]domain.Account, error) {
	return s.accounts(ctx, `
SELECT email, password, antenna_id, exam_id, motivation_id, reserved
FROM accounts ORDER BY id`)
}

// PendingAccounts lists the accounts that still need a slot and have not
// been retired after a failed login.
func (s *Store) PendingAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.accounts(ctx, `
SELECT email, password, antenna_id, exam_id, motivation_id, reserved
FROM accounts WHERE reserved = $1 AND login_failed = $1 ORDER BY id`, false)
}

// RetireAccount flags the account as rejected by the portal so it is never
// loaded into the pool again.
func (s *Store) RetireAccount(ctx context.Context, email string) error {
	ok, err := s.AccountExists(ctx, email)
	if err != nil {
		return err
	}
	if !ok {
		return db.ErrNotFound
	}
	return s.db.Exec(ctx, `
UPDATE accounts SET login_failed=$2, updated_at=CURRENT_TIMESTAMP WHERE email=$1`, email, true)
}

func (s *Store) accounts(ctx context.Context, query string, args ...any) ([]domain.Account, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		if err := rows.Scan(&a.Email, &a.Password, &a.Antenna, &a.Exam, &a.Motivation, &a.Reserved); err != nil {
			return nil, err
		}
		if a.Password, err = s.box.Open(a.Password); err != nil {
			return nil, fmt.Errorf("account %s: %w", a.Email, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
