package portal

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
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

func TestLoginFlow(t *testing.T) {
	f, srv := newFakePortal(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	assert.False(t, c.LoggedIn())
	require.NoError(t, c.Login(ctx, "a@example.com", "secret"))
	assert.True(t, c.LoggedIn())
	assert.Equal(t, "exams-token", c.token())

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.headers)
	assert.Equal(t, "*/*", f.headers[0].Get("Accept"))
	assert.Contains(t, f.headers[0].Get("User-Agent"), "Chrome")
	assert.Contains(t, f.headers[0].Get("Accept-Language"), "fr-FR")
}

func TestLoginRejected(t *testing.T) {
	_, srv := newFakePortal(t)
	c := newTestClient(t, srv.URL)

	err := c.Login(context.Background(), "a@example.com", "wrong")
	assert.ErrorIs(t, err, internaltypes.ErrLogin)
	assert.False(t, c.LoggedIn())
}

func TestFetchEventsRedirectedToLogin(t *testing.T) {
	_, srv := newFakePortal(t)
	c := newTestClient(t, srv.URL)

	_, err := c.FetchEvents(context.Background())
	assert.ErrorIs(t, err, internaltypes.ErrNotLoggedIn)
}

func TestFetchEventsAndWindows(t *testing.T) {
	_, srv := newFakePortal(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "a@example.com", "secret"))

	page, err := c.FetchEvents(ctx)
	require.NoError(t, err)
	events, err := ParseEvents(page, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)

	ws, err := c.FetchPaymentWindows(ctx, "e1")
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.Equal(t, domain.PaymentWindow{TimeShiftUID: "w1", DateFrom: "09:00", DateTo: "12:00", IsMorning: true, EventUID: "e1"}, ws[0])
	assert.False(t, ws[1].IsMorning)

	_, err = c.FetchPaymentWindows(ctx, "unknown")
	assert.ErrorIs(t, err, internaltypes.ErrFetch)
	_, err = c.FetchPaymentWindows(ctx, "broken")
	assert.ErrorIs(t, err, internaltypes.ErrFetch)
}

func TestSubmitReservation(t *testing.T) {
	f, srv := newFakePortal(t)
	f.reserveOK["w2"] = true
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "a@example.com", "secret"))

	acc := domain.Account{Email: "a@example.com", Motivation: 3}
	ok, err := c.SubmitReservation(ctx, "e1", acc, domain.PaymentWindow{TimeShiftUID: "w1", DateFrom: "09:00", DateTo: "12:00"})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.SubmitReservation(ctx, "e1", acc, domain.PaymentWindow{TimeShiftUID: "w2", DateFrom: "13:00", DateTo: "16:00"})
	require.NoError(t, err)
	assert.True(t, ok)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, []string{"e1|3|13:00-16:00|w2"}, f.reserved)
}

func TestClearSession(t *testing.T) {
	_, srv := newFakePortal(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx, "a@example.com", "secret"))

	c.ClearSession()
	assert.False(t, c.LoggedIn())
	assert.Empty(t, c.token())
	_, err := c.FetchEvents(ctx)
	assert.ErrorIs(t, err, internaltypes.ErrNotLoggedIn)
}

func TestRateLimitPacesCalls(t *testing.T) {
	_, srv := newFakePortal(t)
	c, err := New(Options{BaseURL: srv.URL, RateLimit: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, _ = c.FetchEvents(context.Background())
	}
	// the first call waits as well
	assert.GreaterOrEqual(t, time.Since(start), 140*time.Millisecond)
}

func TestRateLimitCountsFromEndOfCall(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		time.Sleep(150 * time.Millisecond)
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(srv.Close)

	c, err := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RateLimit: 100 * time.Millisecond, Log: zerolog.Nop()})
	require.NoError(t, err)

	var ends []time.Time
	for i := 0; i < 3; i++ {
		_, _, err := c.do(context.Background(), http.MethodGet, "/slow", nil, reqOpts{})
		require.NoError(t, err)
		ends = append(ends, time.Now())
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, arrivals, 3)
	for i := 1; i < 3; i++ {
		assert.GreaterOrEqual(t, arrivals[i].Sub(ends[i-1]), 90*time.Millisecond, "gap before call %d", i)
	}
}

func TestConnectTimeoutsAreRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	tr := c.hc.Transport.(*http.Transport)
	dial := tr.DialContext
	var dials atomic.Int32
	tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		if dials.Add(1) <= 3 {
			return nil, &net.OpError{Op: "dial", Net: network, Err: timeoutErr{}}
		}
		return dial(ctx, network, addr)
	}

	_, body, err := c.do(context.Background(), http.MethodGet, "/", nil, reqOpts{})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(4), dials.Load())
}

func TestRequestTimeoutFails(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := New(Options{BaseURL: srv.URL, Timeout: 200 * time.Millisecond, Log: zerolog.Nop()})
	require.NoError(t, err)

	start := time.Now()
	_, _, err = c.do(context.Background(), http.MethodGet, "/hang", nil, reqOpts{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, isConnectTimeout(err))
}

func TestIsConnectTimeout(t *testing.T) {
	assert.True(t, isConnectTimeout(&net.OpError{Op: "dial", Err: timeoutErr{}}))
	assert.False(t, isConnectTimeout(&net.OpError{Op: "read", Err: timeoutErr{}}))
	assert.False(t, isConnectTimeout(context.DeadlineExceeded))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }
