package portal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const examsPage = `<html><head><meta name="csrf-token" content="exams-token"></head>
<body><script>
var defaultEvents = [
  {uid: "e1", title: "TCF SO", start: "2021-10-01", price: "15000", antenna_id: 1, antenna_name: "Alger", local: "Salle 1", status: 1, full: 0},
  {uid: "e2", title: "TCF Canada", start: "2021-10-02", antenna_id: "2", status: 1, full: 0},
  {uid: "e3", title: "TCF SO", start: "2021-10-03", antenna_id: 1, status: 1, full: 1},
];
</script></body></html>`

// fakePortal mimics the login, exams, getdays and reserve endpoints.
type fakePortal struct {
	t  *testing.T
	mu sync.Mutex

	password   string
	sessions   map[string]bool
	reserveOK  map[string]bool // time shift uid -> outcome
	reserved   []string
	headers    []http.Header
	loginPages int
}

func newFakePortal(t *testing.T) (*fakePortal, *httptest.Server) {
	f := &fakePortal{t: t, password: "secret", sessions: map[string]bool{}, reserveOK: map[string]bool{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", f.login)
	mux.HandleFunc("/exams", f.exams)
	mux.HandleFunc("/exams/getdays", f.getdays)
	mux.HandleFunc("/exams/reserve", f.reserve)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePortal) authed(r *http.Request) bool {
	c, err := r.Cookie("ifa_session")
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[c.Value]
}

func (f *fakePortal) login(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.headers = append(f.headers, r.Header.Clone())
	f.mu.Unlock()

	if r.Method == http.MethodGet {
		f.mu.Lock()
		f.loginPages++
		f.mu.Unlock()
		fmt.Fprint(w, `<html><head><meta name="csrf-token" content="login-token"></head></html>`)
		return
	}
	if r.Header.Get("X-CSRF-TOKEN") != "login-token" || r.Header.Get("X-Requested-With") != "XMLHttpRequest" {
		http.Error(w, "bad token", http.StatusUnprocessableEntity)
		return
	}
	_ = r.ParseForm()
	if r.FormValue("password") != f.password {
		fmt.Fprint(w, `{"notification":{"importance":"error","message":"Identifiants invalides"}}`)
		return
	}
	sid := "sid-" + r.FormValue("email")
	f.mu.Lock()
	f.sessions[sid] = true
	f.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: "ifa_session", Value: sid, Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "xsrf", Path: "/"})
	fmt.Fprint(w, `{"notification":{"importance":"success","message":"ok"}}`)
}

func (f *fakePortal) exams(w http.ResponseWriter, r *http.Request) {
	if !f.authed(r) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	fmt.Fprint(w, examsPage)
}

func (f *fakePortal) getdays(w http.ResponseWriter, r *http.Request) {
	if !f.authed(r) || r.Header.Get("X-CSRF-TOKEN") != "exams-token" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	_ = r.ParseForm()
	if r.FormValue("service_type") != "EX" {
		http.Error(w, "bad service", http.StatusBadRequest)
		return
	}
	switch r.FormValue("uid") {
	case "e1":
		fmt.Fprint(w, `{"success":true,"dates":[
			{"info":{"From":"09:00","To":"12:00"},"timeShift":{"uid":"w1","is_Morning":1}},
			{"info":{"From":"13:00","To":"16:00"},"timeShift":{"uid":"w2","is_Morning":false}}]}`)
	case "broken":
		fmt.Fprint(w, `not json`)
	default:
		fmt.Fprint(w, `{"success":false}`)
	}
}

func (f *fakePortal) reserve(w http.ResponseWriter, r *http.Request) {
	if !f.authed(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	_ = r.ParseForm()
	info := r.FormValue("info")
	f.mu.Lock()
	ok := f.reserveOK[info]
	if ok {
		f.reserved = append(f.reserved, fmt.Sprintf("%s|%s|%s|%s", r.FormValue("uid"), r.FormValue("motivation"), r.FormValue("timeshift"), info))
	}
	f.mu.Unlock()
	fmt.Fprintf(w, `{"success":%t}`, ok)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: baseURL, Timeout: 2 * time.Second, Log: zerolog.Nop()})
	require.NoError(t, err)
	return c
}
