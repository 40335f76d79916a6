package reserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/internaltypes"
)

// Session is the slice of the portal client a reservation attempt needs.
type Session interface {
	Login(ctx context.Context, email, password string) error
	SubmitReservation(ctx context.Context, eventUID string, a domain.Account, w domain.PaymentWindow) (bool, error)
}

// SessionFactory returns a fresh, unauthenticated session per attempt.
type SessionFactory func() (Session, error)

type Candidate struct {
	Event  domain.Event
	Window domain.PaymentWindow
}

// Candidates pairs every bookable event matching the account's antenna and
// exam with each of its windows, in event then window order.
func Candidates(a domain.Account, events []domain.Event, windows []domain.PaymentWindow) []Candidate {
	title := a.ExamTitle()
	var out []Candidate
	for _, ev := range events {
		if !ev.CanReserve() || ev.AntennaID != a.Antenna || ev.Title != title {
			continue
		}
		for _, w := range windows {
			if w.EventUID == ev.UID {
				out = append(out, Candidate{Event: ev, Window: w})
			}
		}
	}
	return out
}

type Worker struct {
	newSession SessionFactory
	log        zerolog.Logger
	now        func() time.Time
}

func New(newSession SessionFactory, log zerolog.Logger) *Worker {
	return &Worker{
		newSession: newSession,
		log:        log.With().Str("component", "reserver").Logger(),
		now:        time.Now,
	}
}

// Reserve logs the account in and submits candidates until one is accepted.
// Login problems surface as ErrLogin; running out of candidates as
// ErrReservation.
func (w *Worker) Reserve(ctx context.Context, a domain.Account, events []domain.Event, windows []domain.PaymentWindow) (domain.Reservation, error) {
	log := w.log.With().Str("email", a.Email).Logger()

	sess, err := w.newSession()
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("%w: new session: %v", internaltypes.ErrReservation, err)
	}
	if err := sess.Login(ctx, a.Email, a.Password); err != nil {
		if !errors.Is(err, internaltypes.ErrLogin) {
			err = errors.Join(internaltypes.ErrLogin, err)
		}
		return domain.Reservation{}, err
	}

	for _, c := range Candidates(a, events, windows) {
		ok, err := sess.SubmitReservation(ctx, c.Event.UID, a, c.Window)
		if err != nil {
			log.Warn().Err(err).Str("event", c.Event.UID).Str("window", c.Window.TimeShiftUID).Msg("submit failed")
			if ctx.Err() != nil {
				break
			}
			// a failed submit only loses this window; later candidates may still succeed
			continue
		}
		if !ok {
			log.Debug().Str("event", c.Event.UID).Str("window", c.Window.TimeShiftUID).Msg("window refused")
			continue
		}
		a.Reserved = true
		log.Info().Str("event", c.Event.UID).Str("window", c.Window.Timeshift()).Msg("slot reserved")
		return domain.Reservation{Account: a, Event: c.Event, Window: c.Window, CreatedAt: w.now()}, nil
	}
	return domain.Reservation{}, fmt.Errorf("%w: no window accepted for %s", internaltypes.ErrReservation, a.Email)
}
