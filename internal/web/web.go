// Package web exposes the inbound action API over HTTP. The transport
// layer stays algorithm-free: handlers validate, call into the core
// contracts, and translate errors to status codes.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"famcal/internal/aggregate"
	"famcal/internal/canonical"
	"famcal/internal/classify"
	"famcal/internal/config"
	"famcal/internal/layout"
	appLog "famcal/internal/log"
	"famcal/internal/model"
	"famcal/internal/store"
)

// ValidationError rejects a malformed inbound payload without mutating
// state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Refresher triggers an aggregation pass on demand.
type Refresher interface {
	Pass(ctx context.Context) (*aggregate.PassReport, error)
}

// Server wires the HTTP routes over the core.
type Server struct {
	cfg      *config.Config
	store    store.Store
	workflow *classify.Workflow
	refresh  Refresher
	loc      *time.Location
	router   chi.Router
}

// NewServer constructs the action API server. loc is the display
// timezone used for week layout.
func NewServer(cfg *config.Config, st store.Store, wf *classify.Workflow, refresh Refresher, loc *time.Location) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		workflow: wf,
		refresh:  refresh,
		loc:      loc,
		router:   chi.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the http.Handler, wrapped with basic auth when
// configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.cfg.BasicAuth != nil && s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != "" {
		h = s.basicAuth(h)
	}
	return h
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleListEvents)
		r.Post("/events", s.handleCreateEvent)
		r.Get("/inbox", s.handleInbox)
		r.Post("/events/{uid}/approve", s.action(s.workflow.Approve))
		r.Post("/events/{uid}/reject", s.action(s.workflow.Reject))
		r.Post("/events/{uid}/restore", s.action(s.workflow.Restore))
		r.Get("/week", s.handleWeek)
		r.Post("/refresh", s.handleRefresh)
	})
}

// basicAuth protects everything except /health with constant-time
// credential comparison.
func (s *Server) basicAuth(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="famcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

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

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context())
	if err != nil {
		appLog.Error("list events failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	q := r.URL.Query()
	from, to, verr := parseRange(q.Get("from"), q.Get("to"), s.loc)
	if verr != nil {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}

	out := make([]*model.CanonicalEvent, 0, len(events))
	for _, ev := range events {
		if !from.IsZero() && ev.Start.Before(from) {
			continue
		}
		if !to.IsZero() && ev.Start.After(to) {
			continue
		}
		out = append(out, ev)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEventsByState(r.Context(), model.StatePending)
	if err != nil {
		appLog.Error("list inbox failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list inbox")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// createEventPayload is the manual event creation body.
type createEventPayload struct {
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Start       string `json:"start"` // RFC3339
	End         string `json:"end"`   // RFC3339, optional
	CreatedBy   string `json:"created_by"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var payload createEventPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev, verr := buildManualEvent(payload, time.Now())
	if verr != nil {
		writeError(w, http.StatusBadRequest, verr.Error())
		return
	}

	if err := s.store.UpsertEvent(r.Context(), ev); err != nil {
		appLog.Error("create event failed", err, "uid", ev.UID)
		writeError(w, http.StatusInternalServerError, "failed to persist event")
		return
	}
	appLog.Info("manual event created", "uid", ev.UID, "summary", ev.Summary, "created_by", ev.CreatedBy)
	writeJSON(w, http.StatusCreated, ev)
}

// buildManualEvent validates the payload and constructs the event. The
// state is Approved: manual events never sit in the inbox.
func buildManualEvent(p createEventPayload, now time.Time) (*model.CanonicalEvent, error) {
	if p.Summary == "" {
		return nil, &ValidationError{Field: "summary", Reason: "must not be empty"}
	}
	if p.Start == "" {
		return nil, &ValidationError{Field: "start", Reason: "must not be empty"}
	}
	start, err := time.Parse(time.RFC3339, p.Start)
	if err != nil {
		return nil, &ValidationError{Field: "start", Reason: "must be RFC3339"}
	}
	var end time.Time
	if p.End != "" {
		end, err = time.Parse(time.RFC3339, p.End)
		if err != nil {
			return nil, &ValidationError{Field: "end", Reason: "must be RFC3339"}
		}
		if end.Before(start) {
			return nil, &ValidationError{Field: "end", Reason: "must not be before start"}
		}
	}

	ev := canonical.Manual(p.Summary, p.Description, p.Location, start, end, p.CreatedBy, now)
	ev.State = model.StateApproved
	return ev, nil
}

// action adapts a workflow transition to an HTTP handler with the
// shared error mapping.
func (s *Server) action(fn func(ctx context.Context, uid string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := chi.URLParam(r, "uid")
		err := fn(r.Context(), uid)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, map[string]string{"uid": uid})
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "unknown uid")
		case errors.Is(err, store.ErrStaleState):
			writeError(w, http.StatusConflict, err.Error())
		default:
			appLog.Error("action failed", err, "uid", uid)
			writeError(w, http.StatusInternalServerError, "action failed")
		}
	}
}

func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	ref := time.Now().In(s.loc)
	if v := r.URL.Query().Get("start"); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		ref = parsed
	}
	week := layout.WeekOf(ref, s.cfg.WeekStart)

	events, err := s.store.ListEventsByState(r.Context(), model.StateApproved, model.StateSynced)
	if err != nil {
		appLog.Error("list events for week failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	grid, err := layout.Place(events, week)
	if err != nil {
		appLog.Error("week layout failed", err)
		writeError(w, http.StatusInternalServerError, "failed to lay out week")
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresh == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh not available")
		return
	}
	rep, err := s.refresh.Pass(r.Context())
	if err != nil {
		appLog.Error("manual refresh failed", err)
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func parseRange(fromStr, toStr string, loc *time.Location) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromStr != "" {
		from, err = time.ParseInLocation("2006-01-02", fromStr, loc)
		if err != nil {
			return from, to, &ValidationError{Field: "from", Reason: "must be YYYY-MM-DD"}
		}
	}
	if toStr != "" {
		to, err = time.ParseInLocation("2006-01-02", toStr, loc)
		if err != nil {
			return from, to, &ValidationError{Field: "to", Reason: "must be YYYY-MM-DD"}
		}
		to = to.AddDate(0, 0, 1) // inclusive day
	}
	return from, to, nil
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
