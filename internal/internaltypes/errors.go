package internaltypes

import "errors"

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")

	// ErrLogin means the portal rejected the credentials or the login flow broke.
	// During a reservation round it retires the account for good.
	ErrLogin = errors.New("login failed")
	// ErrNotLoggedIn means the portal redirected an authenticated page to /login.
	ErrNotLoggedIn = errors.New("not logged in")
	ErrFetch       = errors.New("fetch failed")
	// ErrReservation means no candidate slot could be claimed this round.
	ErrReservation = errors.New("reservation failed")
)
