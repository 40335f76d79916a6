package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/internaltypes"
)

type fakeCrawler struct {
	mu       sync.Mutex
	calls    int
	events   []domain.Event
	windows  []domain.PaymentWindow
	errs     []error // consumed in order by CrawlEvents
	cleared  int
	onCrawl  func(n int)
	winCalls int
	winErr   error
}

func (f *fakeCrawler) CrawlEvents(ctx context.Context) ([]domain.Event, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	cb := f.onCrawl
	f.mu.Unlock()
	if cb != nil {
		cb(n)
	}
	if err != nil {
		return nil, err
	}
	return f.events, nil
}

func (f *fakeCrawler) CrawlPaymentWindows(ctx context.Context, events []domain.Event) ([]domain.PaymentWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.winCalls++
	if f.winErr != nil {
		return nil, f.winErr
	}
	return f.windows, nil
}

func (f *fakeCrawler) ClearSession() {
	f.mu.Lock()
	f.cleared++
	f.mu.Unlock()
}

func (f *fakeCrawler) crawls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReserver struct {
	mu      sync.Mutex
	fn      func(a domain.Account) error
	calls   map[string]int
	delay   time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeReserver) Reserve(ctx context.Context, a domain.Account, events []domain.Event, windows []domain.PaymentWindow) (domain.Reservation, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[a.Email]++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	var err error
	if f.fn != nil {
		err = f.fn(a)
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	a.Reserved = true
	return domain.Reservation{Account: a, Event: events[0], Window: windows[0], CreatedAt: time.Now()}, nil
}

func (f *fakeReserver) callsFor(email string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[email]
}

func (f *fakeReserver) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type fakeStore struct {
	mu           sync.Mutex
	events       int
	windows      int
	accounts     []domain.Account
	retired      []string
	reservations []domain.Reservation
	err          error
}

func (f *fakeStore) SaveEvents(ctx context.Context, events []domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events++
	return f.err
}

func (f *fakeStore) SavePaymentWindows(ctx context.Context, windows []domain.PaymentWindow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows++
	return f.err
}

func (f *fakeStore) SaveAccount(ctx context.Context, a domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts = append(f.accounts, a)
	return f.err
}

func (f *fakeStore) RetireAccount(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retired = append(f.retired, email)
	return f.err
}

func (f *fakeStore) InsertReservation(ctx context.Context, r domain.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reservations = append(f.reservations, r)
	return f.err
}

var (
	openEvent = domain.Event{UID: "E1", Title: "TCF SO", AntennaID: 1, Status: 1}
	window    = domain.PaymentWindow{TimeShiftUID: "W1", EventUID: "E1", DateFrom: "09:00", DateTo: "10:00"}
)

func accounts(n int) []domain.Account {
	out := make([]domain.Account, n)
	for i := range out {
		out[i] = domain.Account{Email: fmt.Sprintf("a%d@example.com", i), Password: "pw", Antenna: 1, Motivation: 1, Exam: 1}
	}
	return out
}

func newEngine(c *fakeCrawler, r *fakeReserver, s *fakeStore, hooks Hooks, workers int) *Engine {
	return New(Options{
		Crawler:    c,
		Reserver:   r,
		Store:      s,
		Hooks:      hooks,
		MaxWorkers: workers,
		Cooldown:   5 * time.Millisecond,
		Log:        zerolog.Nop(),
	})
}

// stopAfter stops e when the crawler is entered for the nth time.
func stopAfter(c *fakeCrawler, e **Engine, n int) {
	c.onCrawl = func(k int) {
		if k >= n {
			(*e).Stop()
		}
	}
}

func TestNoOpenEventsCoolsDown(t *testing.T) {
	c := &fakeCrawler{events: []domain.Event{{UID: "E1", Status: 1, Full: 1}, {UID: "E2", Status: 0}}}
	r := &fakeReserver{}
	s := &fakeStore{}
	var e *Engine
	stopAfter(c, &e, 3)
	e = newEngine(c, r, s, Hooks{}, 2)
	e.SetAccounts(accounts(2))

	require.NoError(t, e.Start(context.Background()))
	e.Wait()

	assert.Equal(t, 3, c.crawls())
	assert.Zero(t, c.winCalls)
	assert.Zero(t, r.total())
	assert.Zero(t, s.windows)
	assert.Empty(t, s.reservations)
	assert.Len(t, e.Accounts(), 2)
	assert.Equal(t, Stopped, e.State())
	assert.False(t, e.Running())
}

func TestLoginErrorRemovesAccount(t *testing.T) {
	c := &fakeCrawler{events: []domain.Event{openEvent}, windows: []domain.PaymentWindow{window}}
	accs := accounts(3)
	r := &fakeReserver{fn: func(a domain.Account) error {
		switch a.Email {
		case accs[0].Email:
			return fmt.Errorf("%w: bad password", internaltypes.ErrLogin)
		case accs[1].Email:
			return fmt.Errorf("%w: all windows taken", internaltypes.ErrReservation)
		}
		return nil
	}}
	s := &fakeStore{}
	var reservedHook []string
	var e *Engine
	stopAfter(c, &e, 3)
	e = newEngine(c, r, s, Hooks{OnAccountReserved: func(res domain.Reservation) {
		reservedHook = append(reservedHook, res.Account.Email)
	}}, 2)
	e.SetAccounts(accs)

	require.NoError(t, e.Start(context.Background()))
	e.Wait()

	// round 1 dispatches all three; round 2 only the one that found no slot
	assert.Equal(t, 1, r.callsFor(accs[0].Email))
	assert.Equal(t, 2, r.callsFor(accs[1].Email))
	assert.Equal(t, 1, r.callsFor(accs[2].Email))

	left := e.Accounts()
	require.Len(t, left, 1)
	assert.Equal(t, accs[1].Email, left[0].Email)

	assert.Equal(t, []string{accs[2].Email}, reservedHook)
	require.Len(t, s.reservations, 1)
	assert.True(t, s.reservations[0].Account.Reserved)
	require.Len(t, s.accounts, 1)
	assert.True(t, s.accounts[0].Reserved)
	assert.Equal(t, []string{accs[0].Email}, s.retired)
	assert.Equal(t, 1, e.Status().Reserved)
}

func TestPaymentCrawlWithoutWindowsCoolsDown(t *testing.T) {
	tests := []struct {
		name    string
		windows []domain.PaymentWindow
		err     error
	}{
		{name: "crawl error", err: fmt.Errorf("%w: getdays", internaltypes.ErrFetch)},
		{name: "no windows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCrawler{events: []domain.Event{openEvent}, windows: tt.windows, winErr: tt.err}
			r := &fakeReserver{}
			s := &fakeStore{}
			var e *Engine
			stopAfter(c, &e, 3)
			e = newEngine(c, r, s, Hooks{}, 2)
			e.SetAccounts(accounts(2))

			require.NoError(t, e.Start(context.Background()))
			e.Wait()

			assert.Equal(t, 3, c.crawls())
			// the third crawl stops the loop before windows are fetched
			assert.Equal(t, 2, c.winCalls)
			assert.Zero(t, r.total())
			assert.Zero(t, s.windows)
			assert.Len(t, e.Accounts(), 2)
			if tt.err != nil {
				assert.Contains(t, e.Status().LastError, "getdays")
			} else {
				assert.Empty(t, e.Status().LastError)
			}
		})
	}
}

func TestInFlightCountsDispatchedWorkers(t *testing.T) {
	c := &fakeCrawler{events: []domain.Event{openEvent}, windows: []domain.PaymentWindow{window}}
	release := make(chan struct{})
	r := &fakeReserver{fn: func(domain.Account) error {
		<-release
		return internaltypes.ErrReservation
	}}
	var e *Engine
	stopAfter(c, &e, 2)
	e = newEngine(c, r, &fakeStore{}, Hooks{}, 2)
	e.SetAccounts(accounts(2))

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return e.Status().InFlight == 2 }, time.Second, time.Millisecond)
	close(release)
	e.Wait()
	assert.Zero(t, e.Status().InFlight)
}

func TestConcurrencyBound(t *testing.T) {
	c := &fakeCrawler{events: []domain.Event{openEvent}, windows: []domain.PaymentWindow{window}}
	r := &fakeReserver{delay: 20 * time.Millisecond, fn: func(domain.Account) error {
		return internaltypes.ErrReservation
	}}
	var e *Engine
	stopAfter(c, &e, 2)
	e = newEngine(c, r, &fakeStore{}, Hooks{}, 3)
	e.SetAccounts(accounts(10))

	require.NoError(t, e.Start(context.Background()))
	e.Wait()

	assert.Equal(t, 10, r.total())
	assert.Equal(t, int32(3), r.maxSeen.Load())
	assert.Len(t, e.Accounts(), 10)
	assert.Zero(t, e.Status().InFlight)
}

func TestNotLoggedInClearsSession(t *testing.T) {
	c := &fakeCrawler{errs: []error{internaltypes.ErrNotLoggedIn, internaltypes.ErrFetch}}
	var e *Engine
	stopAfter(c, &e, 3)
	e = newEngine(c, &fakeReserver{}, &fakeStore{}, Hooks{}, 1)

	require.NoError(t, e.Start(context.Background()))
	e.Wait()

	assert.Equal(t, 1, c.cleared)
	assert.Equal(t, 3, c.crawls())
	assert.NotEmpty(t, e.Status().LastError)
}

func TestStorageFailuresAreIgnored(t *testing.T) {
	c := &fakeCrawler{events: []domain.Event{openEvent}, windows: []domain.PaymentWindow{window}}
	r := &fakeReserver{}
	s := &fakeStore{err: errors.New("disk full")}
	var hooked atomic.Int32
	var e *Engine
	stopAfter(c, &e, 2)
	e = newEngine(c, r, s, Hooks{OnAccountReserved: func(domain.Reservation) { hooked.Add(1) }}, 1)
	e.SetAccounts(accounts(1))

	require.NoError(t, e.Start(context.Background()))
	e.Wait()

	assert.Equal(t, int32(1), hooked.Load())
	assert.Empty(t, e.Accounts())
}

func TestHookPanicsAreRecovered(t *testing.T) {
	c := &fakeCrawler{events: []domain.Event{openEvent}, windows: []domain.PaymentWindow{window}}
	var stopped atomic.Bool
	var e *Engine
	stopAfter(c, &e, 2)
	e = newEngine(c, &fakeReserver{}, &fakeStore{}, Hooks{
		OnStart:           func() { panic("start") },
		OnAccountReserved: func(domain.Reservation) { panic("reserved") },
		OnStop:            func() { stopped.Store(true) },
	}, 1)
	e.SetAccounts(accounts(1))

	require.NoError(t, e.Start(context.Background()))
	e.Wait()

	assert.True(t, stopped.Load())
	assert.Equal(t, 2, c.crawls())
}

func TestStartTwice(t *testing.T) {
	c := &fakeCrawler{}
	e := newEngine(c, &fakeReserver{}, &fakeStore{}, Hooks{}, 1)
	e.cooldown = time.Hour

	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Start(context.Background()), ErrRunning)

	require.Eventually(t, func() bool { return e.State() == Cooling }, time.Second, time.Millisecond)
	// Stop wakes the cooldown early
	e.Stop()
	e.Stop()
	e.Wait()
	assert.False(t, e.Running())
}

func TestContextCancelStops(t *testing.T) {
	c := &fakeCrawler{}
	e := newEngine(c, &fakeReserver{}, &fakeStore{}, Hooks{}, 1)
	e.cooldown = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	require.Eventually(t, func() bool { return e.State() == Cooling }, time.Second, time.Millisecond)
	cancel()
	e.Wait()
	assert.Equal(t, Stopped, e.State())
}

func TestStopDuringCrawlSkipsDispatch(t *testing.T) {
	c := &fakeCrawler{events: []domain.Event{openEvent}, windows: []domain.PaymentWindow{window}}
	r := &fakeReserver{}
	var e *Engine
	stopAfter(c, &e, 1)
	e = newEngine(c, r, &fakeStore{}, Hooks{}, 3)
	e.SetAccounts(accounts(4))

	require.NoError(t, e.Start(context.Background()))
	e.Wait()

	assert.Zero(t, r.total())
	assert.Len(t, e.Accounts(), 4)
}
