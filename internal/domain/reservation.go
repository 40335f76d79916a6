package domain

import "time"

// Reservation records a successful claim of a window by an account.
type Reservation struct {
	Account   Account
	Event     Event
	Window    PaymentWindow
	CreatedAt time.Time
}
