// Package web exposes the booking service over HTTP: a JSON API for
// programmatic use and a small HTML UI for the booking form, with an
// operator area behind a master-secret login.
package web

import (
	"context"
	"embed"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/julienschmidt/httprouter"

	"github.com/example/courtsched/internal/apperr"
	"github.com/example/courtsched/internal/booking"
	"github.com/example/courtsched/internal/config"
)

//go:embed templates/*.html
var fs embed.FS

const sessionCookie = "courtsched_session"

type Server struct {
	Svc *booking.Service
	Cfg config.Config

	sc *securecookie.SecureCookie
}

func NewServer(svc *booking.Service, cfg config.Config) *Server {
	sc := securecookie.New(cfg.SessionHashKey, cfg.SessionBlockKey)
	sc.MaxAge(int((12 * time.Hour).Seconds()))
	return &Server{Svc: svc, Cfg: cfg, sc: sc}
}

func (s *Server) Routes() http.Handler {
	r := httprouter.New()

	// JSON API
	r.HandlerFunc(http.MethodPost, "/api/bookings", s.handleAPICreate)
	r.HandlerFunc(http.MethodGet, "/api/bookings", s.handleAPIList)
	r.GET("/api/bookings/:id", s.handleAPIGet)
	r.DELETE("/api/bookings/:id", s.handleAPICancel)
	r.POST("/api/bookings/:id/cancel-code", s.handleAPICancelCode)
	r.HandlerFunc(http.MethodGet, "/api/resources", s.handleAPIResources)

	r.HandlerFunc(http.MethodGet, "/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	// HTML UI
	r.HandlerFunc(http.MethodGet, "/", s.handleHome)
	r.HandlerFunc(http.MethodPost, "/bookings", s.handleFormCreate)
	r.HandlerFunc(http.MethodGet, "/login", s.handleLoginPage)
	r.HandlerFunc(http.MethodPost, "/login", s.handleLogin)
	r.HandlerFunc(http.MethodPost, "/logout", s.handleLogout)
	r.HandlerFunc(http.MethodGet, "/admin", s.requireAdmin(s.handleAdmin))
	r.HandlerFunc(http.MethodPost, "/admin/cancel", s.requireAdmin(s.handleAdminCancel))
	r.HandlerFunc(http.MethodPost, "/admin/cancel-code", s.requireAdmin(s.handleAdminCancelCode))

	return r
}

// Start runs the HTTP server until ctx is done.
func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Printf("web: listening on %s", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}

type tmplData struct {
	Title string
	Flash string
	Admin bool

	Resources         []config.Resource
	Slots             []int
	DefaultSubmitTime string
	Bookings          []booking.View
}

func (s *Server) render(w http.ResponseWriter, name string, data tmplData) {
	t, err := template.ParseFS(fs, "templates/base.html", name)
	if err != nil {
		http.Error(w, "template error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "base", data); err != nil {
		log.Printf("web: render %s: %v", name, err)
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	views, err := s.Svc.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "templates/index.html", tmplData{
		Title:             "Book a court",
		Flash:             r.URL.Query().Get("flash"),
		Admin:             s.isAdmin(r),
		Resources:         s.Cfg.Form.Resources,
		Slots:             slots(s.Cfg.Participants),
		DefaultSubmitTime: s.Cfg.DefaultSubmitTime,
		Bookings:          views,
	})
}

func slots(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func (s *Server) handleFormCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var names []string
	for i := 1; i <= s.Cfg.Participants; i++ {
		names = append(names, r.FormValue("participant"+strconv.Itoa(i)))
	}
	_, err := s.Svc.Create(r.Context(), booking.CreateRequest{
		Participants: names,
		Resource:     r.FormValue("resource"),
		SubmitTime:   strings.TrimSpace(r.FormValue("submit_time")),
		NotifyTarget: strings.TrimSpace(r.FormValue("notify_target")),
	})
	if err != nil {
		http.Redirect(w, r, "/?flash="+flashText(err), http.StatusFound)
		return
	}
	http.Redirect(w, r, "/?flash=Booking+scheduled", http.StatusFound)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, "templates/login.html", tmplData{Title: "Operator login"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.Svc.VerifyMaster(r.FormValue("secret")) {
		s.render(w, "templates/login.html", tmplData{Title: "Operator login", Flash: "Invalid secret"})
		return
	}
	if err := s.setSession(w, r); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/admin", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", HttpOnly: true, MaxAge: -1})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	views, err := s.Svc.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, "templates/admin.html", tmplData{
		Title:    "Bookings",
		Flash:    r.URL.Query().Get("flash"),
		Admin:    true,
		Bookings: views,
	})
}

func (s *Server) handleAdminCancel(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := s.Svc.Cancel(r.Context(), r.FormValue("id"), r.FormValue("credential"))
	if err != nil {
		http.Redirect(w, r, "/admin?flash="+flashText(err), http.StatusFound)
		return
	}
	http.Redirect(w, r, "/admin?flash=Booking+cancelled", http.StatusFound)
}

func (s *Server) handleAdminCancelCode(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Svc.RequestCancelCode(r.Context(), r.FormValue("id")); err != nil {
		http.Redirect(w, r, "/admin?flash="+flashText(err), http.StatusFound)
		return
	}
	http.Redirect(w, r, "/admin?flash=Code+sent", http.StatusFound)
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.isAdmin(r) {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next(w, r)
	}
}

func (s *Server) setSession(w http.ResponseWriter, r *http.Request) error {
	encoded, err := s.sc.Encode(sessionCookie, map[string]bool{"admin": true})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int((12 * time.Hour).Seconds()),
	})
	return nil
}

func (s *Server) isAdmin(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	val := map[string]bool{}
	if err := s.sc.Decode(sessionCookie, c.Value, &val); err != nil {
		return false
	}
	return val["admin"]
}

func flashText(err error) string {
	return url.QueryEscape(apperr.AsError(err).Message)
}
