package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/engine"
)

// Controller is what the chat commands drive.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	ReloadAccounts(ctx context.Context) (int, error)
	Status() engine.Status
	Accounts(ctx context.Context) ([]domain.Account, error)
	Events(ctx context.Context) ([]domain.Event, error)
	Reservations(ctx context.Context) ([]domain.Reservation, error)
}

// maxLines caps list replies so they fit in one message.
const maxLines = 30

const help = `/start - start the engine
/stop - stop the engine
/status - engine state
/reload - reload accounts from storage
/accounts - list accounts
/events - list crawled events
/reservations - list reservations`

// Commands turns chat commands into replies.
type Commands struct {
	ctl Controller
}

func NewCommands(ctl Controller) *Commands {
	return &Commands{ctl: ctl}
}

// Handle runs one command and returns the reply text.
func (c *Commands) Handle(ctx context.Context, text string) string {
	cmd := strings.Fields(strings.TrimSpace(text))
	if len(cmd) == 0 {
		return help
	}
	// "/status@SomeBot" in group chats
	name, _, _ := strings.Cut(strings.ToLower(cmd[0]), "@")

	switch name {
	case "/start":
		if err := c.ctl.Start(ctx); err != nil {
			if errors.Is(err, engine.ErrRunning) {
				return "Engine is already running."
			}
			return "Start failed: " + err.Error()
		}
		return "Engine started."
	case "/stop":
		if err := c.ctl.Stop(); err != nil {
			return "Engine is not running."
		}
		return "Engine stopping, in-flight reservations will finish."
	case "/status":
		return FormatStatus(c.ctl.Status())
	case "/reload":
		n, err := c.ctl.ReloadAccounts(ctx)
		if err != nil {
			return "Reload failed: " + err.Error()
		}
		return fmt.Sprintf("Reloaded %d pending accounts.", n)
	case "/accounts":
		accs, err := c.ctl.Accounts(ctx)
		if err != nil {
			return "Error: " + err.Error()
		}
		return formatAccounts(accs)
	case "/events":
		evs, err := c.ctl.Events(ctx)
		if err != nil {
			return "Error: " + err.Error()
		}
		return formatEvents(evs)
	case "/reservations":
		rs, err := c.ctl.Reservations(ctx)
		if err != nil {
			return "Error: " + err.Error()
		}
		return formatReservations(rs)
	default:
		return help
	}
}

func FormatStatus(s engine.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", s.State)
	fmt.Fprintf(&b, "Running: %t\n", s.Running)
	fmt.Fprintf(&b, "Accounts: %d (in flight %d)\n", s.Accounts, s.InFlight)
	fmt.Fprintf(&b, "Cycles: %d, reserved: %d", s.Cycles, s.Reserved)
	if s.LastError != "" {
		fmt.Fprintf(&b, "\nLast error: %s", s.LastError)
	}
	return b.String()
}

// FormatReservation is the notification sent when a slot is claimed.
func FormatReservation(r domain.Reservation) string {
	return fmt.Sprintf("Reserved %s for %s on %s (%s, %s)",
		r.Event.Title, r.Account.Email, r.Event.StartDate, r.Window.Timeshift(), domain.Antennas[r.Event.AntennaID])
}

func formatAccounts(accs []domain.Account) string {
	if len(accs) == 0 {
		return "No accounts."
	}
	lines := make([]string, 0, len(accs))
	for _, a := range accs {
		mark := "pending"
		if a.Reserved {
			mark = "reserved"
		}
		lines = append(lines, fmt.Sprintf("%s - %s, %s, %s", a.Email, domain.Antennas[a.Antenna], a.ExamTitle(), mark))
	}
	return join(lines)
}

func formatEvents(evs []domain.Event) string {
	if len(evs) == 0 {
		return "No events."
	}
	lines := make([]string, 0, len(evs))
	for _, e := range evs {
		mark := "closed"
		switch {
		case e.IsFull():
			mark = "full"
		case e.IsOpen():
			mark = "open"
		}
		lines = append(lines, fmt.Sprintf("%s %s - %s (%s)", e.StartDate, e.Title, e.AntennaName, mark))
	}
	return join(lines)
}

func formatReservations(rs []domain.Reservation) string {
	if len(rs) == 0 {
		return "No reservations."
	}
	lines := make([]string, 0, len(rs))
	for _, r := range rs {
		lines = append(lines, fmt.Sprintf("%s - %s %s %s", r.Account.Email, r.Event.Title, r.Event.StartDate, r.Window.Timeshift()))
	}
	return join(lines)
}

func join(lines []string) string {
	if len(lines) > maxLines {
		extra := len(lines) - maxLines
		lines = append(lines[:maxLines:maxLines], fmt.Sprintf("... and %d more", extra))
	}
	return strings.Join(lines, "\n")
}
