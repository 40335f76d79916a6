package crawler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/internaltypes"
	"github.com/example/tcfbot/internal/portal"
)

type State int

const (
	NeedLogin State = iota
	LoggedIn
	EventsFetched
	PaymentsFetched
	Idle
)

func (s State) String() string {
	switch s {
	case NeedLogin:
		return "need-login"
	case LoggedIn:
		return "logged-in"
	case EventsFetched:
		return "events-fetched"
	case PaymentsFetched:
		return "payments-fetched"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// Session is the slice of the portal client the crawler drives.
type Session interface {
	Login(ctx context.Context, email, password string) error
	LoggedIn() bool
	ClearSession()
	FetchEvents(ctx context.Context) (string, error)
	FetchPaymentWindows(ctx context.Context, eventUID string) ([]domain.PaymentWindow, error)
}

// Worker crawls the calendar with one dedicated account.
type Worker struct {
	sess    Session
	account domain.Account
	antenna int
	log     zerolog.Logger

	mu    sync.Mutex
	state State
}

func New(sess Session, account domain.Account, antenna int, log zerolog.Logger) *Worker {
	if antenna == 0 {
		antenna = domain.DefaultAntenna
	}
	return &Worker{
		sess:    sess,
		account: account,
		antenna: antenna,
		log:     log.With().Str("component", "crawler").Logger(),
	}
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// CrawlEvents logs in when needed and returns the primary antenna's events.
func (w *Worker) CrawlEvents(ctx context.Context) ([]domain.Event, error) {
	if !w.sess.LoggedIn() {
		w.setState(NeedLogin)
		if err := w.sess.Login(ctx, w.account.Email, w.account.Password); err != nil {
			if !errors.Is(err, internaltypes.ErrLogin) {
				err = errors.Join(internaltypes.ErrLogin, err)
			}
			return nil, err
		}
	}
	w.setState(LoggedIn)

	page, err := w.sess.FetchEvents(ctx)
	if err != nil {
		if errors.Is(err, internaltypes.ErrNotLoggedIn) {
			w.setState(NeedLogin)
		}
		return nil, err
	}
	events, err := portal.ParseEvents(page, w.antenna)
	if err != nil {
		return nil, err
	}
	w.setState(EventsFetched)
	w.log.Debug().Int("events", len(events)).Msg("events crawled")
	return events, nil
}

// CrawlPaymentWindows collects the windows of every event. Events whose
// windows cannot be fetched are skipped.
func (w *Worker) CrawlPaymentWindows(ctx context.Context, events []domain.Event) ([]domain.PaymentWindow, error) {
	var out []domain.PaymentWindow
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ws, err := w.sess.FetchPaymentWindows(ctx, ev.UID)
		if err != nil {
			w.log.Warn().Err(err).Str("event", ev.UID).Msg("payment windows unavailable")
			continue
		}
		out = append(out, ws...)
	}
	if len(out) == 0 {
		w.setState(Idle)
	} else {
		w.setState(PaymentsFetched)
	}
	return out, nil
}

// ClearSession forces a fresh login on the next crawl.
func (w *Worker) ClearSession() {
	w.sess.ClearSession()
	w.setState(NeedLogin)
}
