// Package web serves the operator dashboard.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/tcfbot/internal/auth"
	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/engine"
)

//go:embed templates/*.html static/*
var fs embed.FS

// Controller is the engine and data surface the dashboard needs.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	ReloadAccounts(ctx context.Context) (int, error)
	Status() engine.Status
	InsertAccount(ctx context.Context, a domain.Account) error
	Accounts(ctx context.Context) ([]domain.Account, error)
	Events(ctx context.Context) ([]domain.Event, error)
	Reservations(ctx context.Context) ([]domain.Reservation, error)
}

type Server struct {
	Auth *auth.Store
	Ctl  Controller
	Log  zerolog.Logger
}

type tmplData struct {
	Title    string
	Operator int64
	Flash    string

	Status       engine.Status
	Accounts     []domain.Account
	Events       []domain.Event
	Reservations []domain.Reservation
	Antennas     map[int]string
	Exams        map[int]string
	Motivations  map[int]string
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/static/", http.FileServer(http.FS(fs)))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)

	mux.Handle("/", s.Auth.RequireAuth(http.HandlerFunc(s.handleDashboard)))
	mux.Handle("/engine/start", s.Auth.RequireAuth(post(s.handleStart)))
	mux.Handle("/engine/stop", s.Auth.RequireAuth(post(s.handleStop)))
	mux.Handle("/engine/reload", s.Auth.RequireAuth(post(s.handleReload)))
	mux.Handle("/accounts/create", s.Auth.RequireAuth(post(s.handleAccountCreate)))

	return s.logRequests(mux)
}

func post(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if r.URL.Path == "/healthz" {
			return
		}
		s.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.renderDashboard(w, r, r.URL.Query().Get("flash"))
}

func (s *Server) renderDashboard(w http.ResponseWriter, r *http.Request, flash string) {
	ctx := r.Context()
	id, _ := auth.OperatorFromContext(ctx)

	accs, err := s.Ctl.Accounts(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	evs, err := s.Ctl.Events(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	rs, err := s.Ctl.Reservations(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "templates/dashboard.html", tmplData{
		Title:        "Dashboard",
		Operator:     id,
		Flash:        flash,
		Status:       s.Ctl.Status(),
		Accounts:     accs,
		Events:       evs,
		Reservations: rs,
		Antennas:     domain.Antennas,
		Exams:        domain.Exams,
		Motivations:  domain.Motivations,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.render(w, "templates/login.html", tmplData{Title: "Login"})
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		username := strings.TrimSpace(r.FormValue("username"))
		id, err := s.Auth.Authenticate(r.Context(), username, r.FormValue("password"))
		if err != nil {
			s.Log.Warn().Str("username", username).Msg("dashboard login rejected")
			w.WriteHeader(http.StatusUnauthorized)
			s.render(w, "templates/login.html", tmplData{Title: "Login", Flash: "Invalid username/password"})
			return
		}
		if err := s.Auth.SetSession(w, r, id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.ClearSession(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	flash := "Engine started"
	if err := s.Ctl.Start(r.Context()); err != nil {
		flash = "Start failed: " + err.Error()
	}
	redirect(w, r, flash)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	flash := "Engine stopping"
	if err := s.Ctl.Stop(); err != nil {
		flash = err.Error()
	}
	redirect(w, r, flash)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	n, err := s.Ctl.ReloadAccounts(r.Context())
	flash := "Reloaded " + strconv.Itoa(n) + " pending accounts"
	if err != nil {
		flash = "Reload failed: " + err.Error()
	}
	redirect(w, r, flash)
}

func (s *Server) handleAccountCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a := domain.Account{
		Email:      strings.TrimSpace(r.FormValue("email")),
		Password:   r.FormValue("password"),
		Antenna:    atoi(r.FormValue("antenna")),
		Exam:       atoi(r.FormValue("exam")),
		Motivation: atoi(r.FormValue("motivation")),
	}
	if err := s.Ctl.InsertAccount(r.Context(), a); err != nil {
		s.Log.Warn().Err(err).Str("email", a.Email).Msg("create account")
		w.WriteHeader(http.StatusUnprocessableEntity)
		s.renderDashboard(w, r, "Account not created: "+err.Error())
		return
	}
	redirect(w, r, "Account "+a.Email+" added")
}

func redirect(w http.ResponseWriter, r *http.Request, flash string) {
	http.Redirect(w, r, "/?flash="+template.URLQueryEscaper(flash), http.StatusSeeOther)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func (s *Server) render(w http.ResponseWriter, name string, data tmplData) {
	t, err := template.ParseFS(fs, "templates/base.html", name)
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		s.Log.Error().Err(err).Str("template", name).Msg("render")
	}
}

// Start serves h on addr until ctx is done.
func Start(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", addr).Msg("dashboard listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
