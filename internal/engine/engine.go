// Package engine runs the crawl, reserve, sync and sleep cycle.
package engine

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/internaltypes"
)

var ErrRunning = errors.New("engine already running")

type State int

const (
	Stopped State = iota
	Starting
	Crawling
	FetchingPayments
	Reserving
	Cooling
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Crawling:
		return "crawling"
	case FetchingPayments:
		return "fetching-payments"
	case Reserving:
		return "reserving"
	case Cooling:
		return "cooling"
	default:
		return "unknown"
	}
}

type Crawler interface {
	CrawlEvents(ctx context.Context) ([]domain.Event, error)
	CrawlPaymentWindows(ctx context.Context, events []domain.Event) ([]domain.PaymentWindow, error)
	ClearSession()
}

type Reserver interface {
	Reserve(ctx context.Context, a domain.Account, events []domain.Event, windows []domain.PaymentWindow) (domain.Reservation, error)
}

type Store interface {
	SaveEvents(ctx context.Context, events []domain.Event) error
	SavePaymentWindows(ctx context.Context, windows []domain.PaymentWindow) error
	SaveAccount(ctx context.Context, a domain.Account) error
	RetireAccount(ctx context.Context, email string) error
	InsertReservation(ctx context.Context, r domain.Reservation) error
}

// Hooks are notified synchronously; a panicking hook is logged and ignored.
type Hooks struct {
	OnStart           func()
	OnStop            func()
	OnAccountReserved func(domain.Reservation)
}

type Options struct {
	Crawler  Crawler
	Reserver Reserver
	Store    Store
	Hooks    Hooks

	MaxWorkers int
	// Cooldown is the sleep between cycles.
	Cooldown time.Duration
	// DispatchDelay separates two worker launches.
	DispatchDelay time.Duration
	Log           zerolog.Logger
}

type Status struct {
	State     State
	Running   bool
	Accounts  int
	InFlight  int
	Cycles    int
	Reserved  int
	LastError string
}

type Engine struct {
	crawler  Crawler
	reserver Reserver
	store    Store
	hooks    Hooks

	maxWorkers    int
	cooldown      time.Duration
	dispatchDelay time.Duration
	log           zerolog.Logger

	mu       sync.Mutex
	accounts []domain.Account
	running  bool
	aborting bool
	state    State
	stop     chan struct{}
	done     chan struct{}
	inflight int
	cycles   int
	reserved int
	lastErr  string
}

func New(opts Options) *Engine {
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	return &Engine{
		crawler:       opts.Crawler,
		reserver:      opts.Reserver,
		store:         opts.Store,
		hooks:         opts.Hooks,
		maxWorkers:    opts.MaxWorkers,
		cooldown:      opts.Cooldown,
		dispatchDelay: opts.DispatchDelay,
		log:           opts.Log.With().Str("component", "engine").Logger(),
	}
}

// SetAccounts replaces the candidate accounts used from the next round on.
func (e *Engine) SetAccounts(accounts []domain.Account) {
	e.mu.Lock()
	e.accounts = slices.Clone(accounts)
	e.mu.Unlock()
}

func (e *Engine) Accounts() []domain.Account {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.accounts)
}

func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		State:     e.state,
		Running:   e.running,
		Accounts:  len(e.accounts),
		InFlight:  e.inflight,
		Cycles:    e.cycles,
		Reserved:  e.reserved,
		LastError: e.lastErr,
	}
}

// Start launches the cycle loop in the background. It returns ErrRunning if
// a loop is already active.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrRunning
	}
	e.running = true
	e.aborting = false
	e.state = Starting
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	stop, done := e.stop, e.done
	e.mu.Unlock()

	go e.run(ctx, stop, done)
	return nil
}

// Stop asks the loop to finish. In-flight workers are allowed to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.aborting {
		return
	}
	e.aborting = true
	close(e.stop)
}

// Wait blocks until the current loop, if any, has exited.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (e *Engine) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		e.mu.Lock()
		e.running = false
		e.state = Stopped
		e.mu.Unlock()
		e.fire("on_stop", e.hooks.OnStop)
		e.log.Info().Msg("engine stopped")
		close(done)
	}()

	e.log.Info().Int("max_workers", e.maxWorkers).Dur("cooldown", e.cooldown).Msg("engine started")
	e.fire("on_start", e.hooks.OnStart)

	for !e.stopping(ctx) {
		e.cycle(ctx, stop)
	}
}

func (e *Engine) stopping(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborting
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) fail(msg string, err error) {
	e.log.Error().Err(err).Msg(msg)
	e.mu.Lock()
	e.lastErr = err.Error()
	e.mu.Unlock()
}

func (e *Engine) cycle(ctx context.Context, stop <-chan struct{}) {
	e.mu.Lock()
	e.cycles++
	e.mu.Unlock()

	e.setState(Crawling)
	events, err := e.crawler.CrawlEvents(ctx)
	if err != nil {
		e.fail("event crawl failed", err)
		if errors.Is(err, internaltypes.ErrNotLoggedIn) {
			e.crawler.ClearSession()
		}
		e.sleep(ctx, stop)
		return
	}
	e.sync(ctx, "events", func(ctx context.Context) error { return e.store.SaveEvents(ctx, events) })

	open := domain.OpenEvents(events)
	e.log.Info().Int("events", len(events)).Int("open", len(open)).Msg("events crawled")
	if len(open) == 0 {
		e.sleep(ctx, stop)
		return
	}
	if e.stopping(ctx) {
		return
	}

	e.setState(FetchingPayments)
	windows, err := e.crawler.CrawlPaymentWindows(ctx, open)
	if err != nil {
		e.fail("payment window crawl failed", err)
		e.sleep(ctx, stop)
		return
	}
	if len(windows) == 0 {
		e.log.Info().Msg("no payment windows")
		e.sleep(ctx, stop)
		return
	}
	e.sync(ctx, "payment windows", func(ctx context.Context) error { return e.store.SavePaymentWindows(ctx, windows) })
	if e.stopping(ctx) {
		return
	}

	e.setState(Reserving)
	e.reserveRound(ctx, open, windows)
	e.sleep(ctx, stop)
}

// sleep waits out the cooldown unless the loop is stopping.
func (e *Engine) sleep(ctx context.Context, stop <-chan struct{}) {
	if e.stopping(ctx) {
		return
	}
	e.setState(Cooling)
	e.log.Debug().Dur("cooldown", e.cooldown).Msg("cooling down")
	t := time.NewTimer(e.cooldown)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	case <-stop:
	}
}

// sync runs a storage write. Failures are logged and never stop the cycle.
func (e *Engine) sync(ctx context.Context, what string, fn func(ctx context.Context) error) {
	if err := fn(ctx); err != nil {
		e.log.Error().Err(err).Str("what", what).Msg("sync failed")
	}
}

func (e *Engine) fire(name string, fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("hook", name).Msg("hook panicked")
		}
	}()
	fn()
}
