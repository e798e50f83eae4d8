// Package web exposes the cached calendar over HTTP: query endpoints over
// the feed, refresh/purge triggers for the scheduler, and an ICS export.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"daycal/internal/config"
	"daycal/internal/feed"
	"daycal/internal/model"
	"daycal/internal/sched"

	appLog "daycal/internal/log"
)

// dateLayout is the wire format for date query parameters.
const dateLayout = "2006-01-02"

// Server provides the HTTP API over the feed and scheduler.
type Server struct {
	cfg   *config.Config
	feed  *feed.Feed
	sched *sched.Scheduler
	mux   chi.Router
}

// NewServer constructs a Server and registers its routes.
func NewServer(cfg *config.Config, f *feed.Feed, s *sched.Scheduler) *Server {
	srv := &Server{
		cfg:   cfg,
		feed:  f,
		sched: s,
		mux:   chi.NewRouter(),
	}
	srv.registerRoutes()
	return srv
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.mux.Get("/health", s.handleHealth)
	s.mux.Get("/api/events", s.handleEvents)
	s.mux.Get("/api/holiday", s.handleHoliday)
	s.mux.Get("/api/snapshot", s.handleSnapshot)
	s.mux.Post("/api/refresh", s.handleRefresh)
	s.mux.Post("/api/purge", s.handlePurge)
	s.mux.Get("/calendar.ics", s.handleICS)
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /health stays reachable for probes without credentials.
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="daycal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO is the JSON shape of one event.
type eventDTO struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Date     string `json:"date"`
	Category string `json:"category"`
}

func toDTOs(events []model.Event) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, eventDTO{
			ID:       ev.ID(),
			Title:    ev.Title,
			Date:     ev.Date.Format(dateLayout),
			Category: string(ev.Category),
		})
	}
	return out
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Date   string     `json:"date"`
	Events []eventDTO `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}
	cats, ok := parseCategoriesParam(w, r)
	if !ok {
		return
	}

	events := s.feed.Query(date, cats)
	writeJSON(w, http.StatusOK, eventsResponse{
		Date:   date.Format(dateLayout),
		Events: toDTOs(events),
	})
}

func (s *Server) handleHoliday(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDateParam(w, r)
	if !ok {
		return
	}

	type holidayResponse struct {
		Date    string `json:"date"`
		Holiday bool   `json:"holiday"`
	}
	writeJSON(w, http.StatusOK, holidayResponse{
		Date:    date.Format(dateLayout),
		Holiday: s.feed.IsHoliday(date),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	type snapshotResponse struct {
		Snapshot  map[string][]eventDTO `json:"snapshot"`
		LastFetch *time.Time            `json:"last_fetch,omitempty"`
		Running   bool                  `json:"running"`
	}

	snap := s.feed.Current()
	out := make(map[string][]eventDTO, len(snap))
	for cat, events := range snap {
		out[string(cat)] = toDTOs(events)
	}

	resp := snapshotResponse{
		Snapshot: out,
		Running:  s.sched.Running(),
	}
	if last, ok := s.sched.LastFetch(); ok {
		resp.LastFetch = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	started := s.sched.Fetch(context.Background(), force)

	type refreshResponse struct {
		Started bool `json:"started"`
	}
	writeJSON(w, http.StatusAccepted, refreshResponse{Started: started})
}

func (s *Server) handlePurge(w http.ResponseWriter, _ *http.Request) {
	s.feed.Purge()
	w.WriteHeader(http.StatusNoContent)
}

func parseDateParam(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "missing date parameter")
		return time.Time{}, false
	}
	date, err := time.Parse(dateLayout, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

// parseCategoriesParam reads the comma-separated categories parameter.
// Absent means all categories; an unknown category is a client error.
func parseCategoriesParam(w http.ResponseWriter, r *http.Request) ([]model.Category, bool) {
	raw := r.URL.Query().Get("categories")
	if raw == "" {
		return model.Categories(), true
	}

	parts := strings.Split(raw, ",")
	cats := make([]model.Category, 0, len(parts))
	for _, part := range parts {
		cat := model.Category(strings.TrimSpace(part))
		if !cat.Valid() {
			writeError(w, http.StatusBadRequest, "unknown category: "+string(cat))
			return nil, false
		}
		cats = append(cats, cat)
	}
	return cats, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
