// Package portal talks to the exam registration portal: login with its
// anti-forgery token, the events calendar, payment windows per event, and the
// reservation form.
package portal

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/internaltypes"
)

const (
	DefaultBaseURL = "https://portail.if-algerie.com"
	DefaultTimeout = 10 * time.Second

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	sessionCookie = "ifa_session"
	xsrfCookie    = "XSRF-TOKEN"
)

var csrfMeta = regexp.MustCompile(`<meta\s+name="csrf-token"\s+content="([^"]*)"`)

type Options struct {
	BaseURL string
	// Timeout bounds each request. Connecting gets half of it.
	Timeout time.Duration
	// RateLimit is the pause before every network call, counted from the end
	// of the previous one.
	RateLimit   time.Duration
	InsecureTLS bool
	Log         zerolog.Logger
}

// Client is one portal session. Never share a Client between accounts.
type Client struct {
	hc      *http.Client
	base    *url.URL
	limiter *rate.Limiter
	log     zerolog.Logger

	// pace serializes pauses so the limiter is never seen mid-reset
	pace sync.Mutex

	mu   sync.Mutex
	csrf string
}

func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(opts.BaseURL, "/")
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("portal base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: timeout / 2, KeepAlive: 30 * time.Second}).DialContext
	if opts.InsecureTLS {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // the portal ships a broken chain
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Every(opts.RateLimit), 1)
		// spend the burst so the very first call waits too
		limiter.Allow()
	}

	return &Client{
		hc:      &http.Client{Timeout: timeout, Transport: tr, Jar: jar},
		base:    base,
		limiter: limiter,
		log:     opts.Log.With().Str("component", "portal").Logger(),
	}, nil
}

// LoggedIn reports whether the jar holds both session cookies.
func (c *Client) LoggedIn() bool {
	var session, xsrf bool
	for _, ck := range c.hc.Jar.Cookies(c.base) {
		switch ck.Name {
		case sessionCookie:
			session = ck.Value != ""
		case xsrfCookie:
			xsrf = ck.Value != ""
		}
	}
	return session && xsrf
}

// ClearSession drops cookies and the cached anti-forgery token.
func (c *Client) ClearSession() {
	jar, _ := cookiejar.New(nil)
	c.mu.Lock()
	c.hc.Jar = jar
	c.csrf = ""
	c.mu.Unlock()
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.csrf
}

func (c *Client) setToken(t string) {
	c.mu.Lock()
	c.csrf = t
	c.mu.Unlock()
}

type loginResponse struct {
	Notification struct {
		Importance string `json:"importance"`
		Message    string `json:"message"`
	} `json:"notification"`
}

// Login authenticates with a fresh session and waits until the exams page
// hands out an anti-forgery token.
func (c *Client) Login(ctx context.Context, email, password string) error {
	c.ClearSession()

	_, body, err := c.do(ctx, http.MethodGet, "/login", nil, reqOpts{})
	if err != nil {
		return fmt.Errorf("%w: login page: %v", internaltypes.ErrLogin, err)
	}
	token := csrfToken(body)
	if token == "" {
		return fmt.Errorf("%w: no csrf token on login page", internaltypes.ErrLogin)
	}

	form := url.Values{
		"rt":       {c.url("/exams")},
		"email":    {email},
		"password": {password},
	}
	_, body, err = c.do(ctx, http.MethodPost, "/login", form, reqOpts{csrf: token, xhr: true})
	if err != nil {
		return fmt.Errorf("%w: submit: %v", internaltypes.ErrLogin, err)
	}
	var res loginResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return fmt.Errorf("%w: decode response: %v", internaltypes.ErrLogin, err)
	}
	if res.Notification.Importance != "success" {
		return fmt.Errorf("%w: portal said %q", internaltypes.ErrLogin, res.Notification.Message)
	}

	for {
		_, body, err := c.do(ctx, http.MethodGet, "/exams", nil, reqOpts{})
		if err != nil {
			return fmt.Errorf("%w: exams page: %v", internaltypes.ErrLogin, err)
		}
		if t := csrfToken(body); t != "" {
			c.setToken(t)
			c.log.Debug().Str("email", email).Msg("logged in")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", internaltypes.ErrLogin, err)
		}
	}
}

// FetchEvents returns the raw exams page.
func (c *Client) FetchEvents(ctx context.Context) (string, error) {
	res, body, err := c.do(ctx, http.MethodGet, "/exams", nil, reqOpts{})
	if err != nil {
		return "", fmt.Errorf("%w: exams page: %v", internaltypes.ErrFetch, err)
	}
	if res.Request != nil && strings.Contains(res.Request.URL.Path, "/login") {
		return "", internaltypes.ErrNotLoggedIn
	}
	if t := csrfToken(body); t != "" {
		c.setToken(t)
	}
	return string(body), nil
}

type daysResponse struct {
	Success bool `json:"success"`
	Dates   []struct {
		Info struct {
			From string `json:"From"`
			To   string `json:"To"`
		} `json:"info"`
		TimeShift struct {
			UID       flexString `json:"uid"`
			IsMorning flexBool   `json:"is_Morning"`
		} `json:"timeShift"`
	} `json:"dates"`
}

func (c *Client) FetchPaymentWindows(ctx context.Context, eventUID string) ([]domain.PaymentWindow, error) {
	form := url.Values{"uid": {eventUID}, "service_type": {"EX"}}
	_, body, err := c.do(ctx, http.MethodPost, "/exams/getdays", form, reqOpts{csrf: c.token(), xhr: true, referer: true})
	if err != nil {
		return nil, fmt.Errorf("%w: getdays %s: %v", internaltypes.ErrFetch, eventUID, err)
	}
	var res daysResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: getdays %s: %v", internaltypes.ErrFetch, eventUID, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: getdays %s refused", internaltypes.ErrFetch, eventUID)
	}

	out := make([]domain.PaymentWindow, 0, len(res.Dates))
	for _, d := range res.Dates {
		out = append(out, domain.PaymentWindow{
			TimeShiftUID: string(d.TimeShift.UID),
			DateFrom:     d.Info.From,
			DateTo:       d.Info.To,
			IsMorning:    bool(d.TimeShift.IsMorning),
			EventUID:     eventUID,
		})
	}
	return out, nil
}

// SubmitReservation posts the reserve form and reports the portal verdict.
func (c *Client) SubmitReservation(ctx context.Context, eventUID string, a domain.Account, w domain.PaymentWindow) (bool, error) {
	form := url.Values{
		"uid":        {eventUID},
		"motivation": {fmt.Sprint(a.Motivation)},
		"timeshift":  {w.Timeshift()},
		"info":       {w.TimeShiftUID},
	}
	_, body, err := c.do(ctx, http.MethodPost, "/exams/reserve", form, reqOpts{csrf: c.token(), xhr: true, referer: true})
	if err != nil {
		return false, err
	}
	var res struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return false, fmt.Errorf("decode reserve response: %w", err)
	}
	return res.Success, nil
}

type reqOpts struct {
	csrf    string
	xhr     bool
	referer bool
}

func (c *Client) url(path string) string {
	return c.base.String() + path
}

// do paces the call, then retries connect timeouts in place until ctx ends.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, o reqOpts) (*http.Response, []byte, error) {
	for {
		c.pause()
		res, body, err := c.roundTrip(ctx, method, path, form, o)
		c.settle()
		if err == nil {
			return res, body, nil
		}
		if isConnectTimeout(err) && ctx.Err() == nil {
			c.log.Warn().Str("path", path).Msg("connect timeout, retrying")
			continue
		}
		return nil, nil, err
	}
}

// pause waits for the rate limiter. The wait itself is not cancellable.
func (c *Client) pause() {
	c.pace.Lock()
	defer c.pace.Unlock()
	_ = c.limiter.Wait(context.Background())
}

// settle empties the limiter when a call ends, so the next pause lasts a
// full interval counted from here however slow the call was.
func (c *Client) settle() {
	if c.limiter.Limit() == rate.Inf {
		return
	}
	c.pace.Lock()
	defer c.pace.Unlock()
	now := time.Now()
	c.limiter.SetBurstAt(now, 0)
	c.limiter.SetBurstAt(now, 1)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, form url.Values, o reqOpts) (*http.Response, []byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("User-Agent", userAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	if o.csrf != "" {
		req.Header.Set("X-CSRF-TOKEN", o.csrf)
	}
	if o.xhr {
		req.Header.Set("X-Requested-With", "XMLHttpRequest")
	}
	if o.referer {
		req.Header.Set("Referer", c.url("/exams"))
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, nil, err
	}
	if res.StatusCode >= 400 {
		return res, b, fmt.Errorf("%s %s: status %d", method, path, res.StatusCode)
	}
	return res, b, nil
}

func isConnectTimeout(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial" && opErr.Timeout()
}

func csrfToken(page []byte) string {
	m := csrfMeta.FindSubmatch(page)
	if m == nil {
		return ""
	}
	return string(m[1])
}
