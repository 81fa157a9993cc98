package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"confsched/internal/config"
	"confsched/internal/index"
	appLog "confsched/internal/log"
	"confsched/internal/model"
	"confsched/internal/payment"
	"confsched/internal/store"
	"confsched/internal/timetable"
)

// layoutCacheTTL bounds how long a compiled timetable is served from memory.
const layoutCacheTTL = 30 * time.Second

// Store is the read side of the event storage the API serves from.
type Store interface {
	GetEvent(ctx context.Context, id string) (model.Event, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	Entries(ctx context.Context, eventID string) ([]*model.Entry, error)
	Index() *index.DateIndex
}

// Refresher triggers an out-of-schedule ICS refresh.
type Refresher interface {
	RunOnce(ctx context.Context) error
}

// Server provides the HTTP API for events, timetables and payments.
type Server struct {
	cfg       *config.Config
	store     Store
	ledger    *payment.Ledger
	refresher Refresher
	mux       *http.ServeMux

	// Compiled timetables keyed by event, slot length and compact mode.
	layoutMu    sync.RWMutex
	layoutCache map[string]*layoutCache

	now func() time.Time
}

// layoutCache holds a compiled timetable and when it was built.
type layoutCache struct {
	event     model.Event
	entries   []*model.Entry
	tt        *timetable.TimeTable
	updatedAt time.Time
}

// NewServer constructs a new Server. ledger may be nil, which disables the
// payment endpoints.
func NewServer(cfg *config.Config, st Store, ledger *payment.Ledger) *Server {
	s := &Server{
		cfg:         cfg,
		store:       st,
		ledger:      ledger,
		mux:         http.NewServeMux(),
		layoutCache: map[string]*layoutCache{},
		now:         time.Now,
	}
	s.registerRoutes()
	return s
}

// SetRefresher enables POST /api/refresh.
func (s *Server) SetRefresher(r Refresher) {
	s.refresher = r
}

// InvalidateCache drops every cached timetable, e.g. after an import.
func (s *Server) InvalidateCache() {
	s.layoutMu.Lock()
	s.layoutCache = map[string]*layoutCache{}
	s.layoutMu.Unlock()
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

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="confsched", charset="UTF-8"`)
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

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web: shutdown: %w", err)
	}
	appLog.Info("HTTP server stopped")
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/events/{id}", s.handleEvent)
	s.mux.HandleFunc("GET /api/events/{id}/timetable", s.handleTimetable)
	s.mux.HandleFunc("GET /api/events/{id}/timetable.html", s.handleTimetableHTML)
	s.mux.HandleFunc("GET /api/events/{id}/timetable.ics", s.handleTimetableICS)
	s.mux.HandleFunc("GET /api/registrations/{id}/transactions", s.handleTransactions)
	s.mux.HandleFunc("POST /api/registrations/{id}/transactions", s.handleAddTransaction)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleEvents lists events overlapping a window.
//
// GET /api/events?from=2025-03-01&to=2025-04-01
//   - from / to: RFC 3339 timestamps or dates in the configured timezone
//   - without both bounds every event is returned
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := s.cfg.Location()

	from, errFrom := parseTimeParam(q.Get("from"), loc)
	to, errTo := parseTimeParam(q.Get("to"), loc)
	if err := errors.Join(errFrom, errTo); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var events []model.Event
	switch {
	case from.IsZero() && to.IsZero():
		s.store.Index().Ascend(func(ev model.Event) bool {
			events = append(events, ev)
			return true
		})
	default:
		if to.IsZero() {
			to = from.AddDate(100, 0, 0)
		}
		if from.IsZero() {
			from = to.AddDate(-100, 0, 0)
		}
		if !to.After(from) {
			writeError(w, http.StatusBadRequest, "to must be after from")
			return
		}
		events = s.store.Index().Between(from, to)
	}

	resp := eventsResponse{Events: make([]eventDTO, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, newEventDTO(ev))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ev, err := s.store.GetEvent(ctx, r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	entries, err := s.store.Entries(ctx, ev.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	resp := eventDetailDTO{eventDTO: newEventDTO(ev), Entries: make([]entryDTO, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, newEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTimetable returns the compiled layout.
//
// GET /api/events/{id}/timetable?slot=15&compact=1
func (s *Server) handleTimetable(w http.ResponseWriter, r *http.Request) {
	lc, ok := s.compiledLayout(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newTimetableDTO(lc.event, lc.tt))
}

// compiledLayout resolves the request's event into a compiled timetable,
// writing the error response itself when it fails.
func (s *Server) compiledLayout(w http.ResponseWriter, r *http.Request) (*layoutCache, bool) {
	id := r.PathValue("id")
	q := r.URL.Query()

	slot, err := parseIntDefault(q.Get("slot"), s.cfg.SlotMinutes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "slot must be a number of minutes")
		return nil, false
	}
	compact := s.cfg.Compact
	if v := q.Get("compact"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "compact must be a boolean")
			return nil, false
		}
		compact = b
	}

	key := fmt.Sprintf("%s|%d|%t", id, slot, compact)
	now := s.now()

	s.layoutMu.RLock()
	lc := s.layoutCache[key]
	s.layoutMu.RUnlock()
	if lc != nil && now.Sub(lc.updatedAt) < layoutCacheTTL {
		return lc, true
	}

	ctx := r.Context()
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}
	entries, err := s.store.Entries(ctx, id)
	if err != nil {
		s.writeStoreError(w, err)
		return nil, false
	}

	opts := append(s.cfg.TimetableOptions(),
		timetable.WithSlotLength(time.Duration(slot)*time.Minute),
		timetable.WithCompact(compact),
	)
	tt, err := timetable.ForEvent(ev, opts...)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if err := tt.Map(entries...); err != nil {
		appLog.Error("timetable: stored entries do not fit event", err, "event", id)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return nil, false
	}
	// Compile before publishing so cached layouts are only read.
	tt.Compile()

	lc = &layoutCache{event: ev, entries: entries, tt: tt, updatedAt: now}
	s.layoutMu.Lock()
	s.layoutCache[key] = lc
	s.layoutMu.Unlock()

	appLog.Debug("timetable compiled for api", "event", id, "slot", slot, "compact", compact, "days", len(tt.Days()))
	return lc, true
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusNotFound, "refresh is not enabled")
		return
	}
	err := s.refresher.RunOnce(r.Context())
	s.InvalidateCache()
	if err != nil {
		appLog.Error("api refresh failed", err)
		writeJSON(w, http.StatusAccepted, statusResponse{Status: "error", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

// writeStoreError maps storage errors onto HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	appLog.Error("api store access failed", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// parseTimeParam accepts RFC 3339 timestamps and plain dates. An empty
// value yields the zero time.
func parseTimeParam(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", v)
	}
	return t, nil
}

// parseIntDefault returns def for an empty value and an error for a
// malformed one.
func parseIntDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
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
