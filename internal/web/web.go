package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"academycal/internal/calendar"
	"academycal/internal/config"
	"academycal/internal/ics"
	appLog "academycal/internal/log"
	"academycal/internal/model"
)

const (
	// adminHeader carries the acting admin id, set by the auth proxy in
	// front of this service.
	adminHeader = "X-Admin-Id"

	maxBodyBytes = 1 << 20
)

// Server exposes the calendar engine over HTTP.
type Server struct {
	cfg *config.Config
	svc *calendar.Service
	mux *http.ServeMux
	now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, svc *calendar.Service) *Server {
	s := &Server{
		cfg: cfg,
		svc: svc,
		mux: http.NewServeMux(),
		now: time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return logRequests(s.mux)
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/calendar/events", s.handleMonthEvents)
	s.mux.HandleFunc("GET /api/calendar/events/upcoming", s.handleUpcomingEvents)
	s.mux.HandleFunc("GET /api/calendar/events/range", s.handleEventsInRange)
	s.mux.HandleFunc("GET /api/calendar/events/{id}", s.handleEvent)

	s.mux.HandleFunc("GET /api/calendar/admin/events", s.handleAllEvents)
	s.mux.HandleFunc("GET /api/calendar/admin/templates", s.handleTemplates)
	s.mux.HandleFunc("POST /api/calendar/admin/events", s.handleCreate)
	s.mux.HandleFunc("POST /api/calendar/admin/events/from-template", s.handleCreateFromTemplate)
	s.mux.HandleFunc("PUT /api/calendar/admin/events/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/calendar/admin/events/{id}", s.handleDelete)

	s.mux.HandleFunc("GET /calendar.ics", s.handleFeed)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventDTO adds derived fields to an event: its end time, its kind and
// where it sits relative to the time of the request.
type eventDTO struct {
	*model.Event
	EndDateTime    time.Time  `json:"end_datetime"`
	Kind           model.Kind `json:"kind"`
	IsHappeningNow bool       `json:"is_happening_now"`
	IsFuture       bool       `json:"is_future"`
	IsPast         bool       `json:"is_past"`
}

func (s *Server) toDTO(ev *model.Event) *eventDTO {
	if ev == nil {
		return nil
	}
	now := s.now()
	return &eventDTO{
		Event:          ev,
		EndDateTime:    ev.EndDateTime(),
		Kind:           ev.Kind(),
		IsHappeningNow: ev.IsHappeningNow(now),
		IsFuture:       ev.IsFuture(now),
		IsPast:         ev.IsPast(now),
	}
}

func (s *Server) toDTOs(events []*model.Event) []*eventDTO {
	out := make([]*eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, s.toDTO(ev))
	}
	return out
}

type eventsResponse struct {
	Events []*eventDTO `json:"events"`
}

// handleMonthEvents returns a month of events with recurring parents
// expanded.
//
// GET /api/calendar/events?year=2025&month=0
//   - month is zero-based (0 = January)
//   - without year or month the current month is used
func (s *Server) handleMonthEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := s.now().In(s.svc.Location())
	year, month := now.Year(), int(now.Month())-1

	if q.Get("year") != "" && q.Get("month") != "" {
		y, errY := strconv.Atoi(q.Get("year"))
		m, errM := strconv.Atoi(q.Get("month"))
		if errY != nil || errM != nil {
			writeError(w, http.StatusBadRequest, "year and month must be integers")
			return
		}
		year, month = y, m
	}

	events, err := s.svc.EventsInMonth(r.Context(), year, month)
	if err != nil {
		s.fail(w, "get month events", err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(events)})
}

func (s *Server) handleUpcomingEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), s.cfg.Upcoming.DefaultLimit)
	if limit <= 0 {
		limit = s.cfg.Upcoming.DefaultLimit
	}
	events, err := s.svc.UpcomingEvents(r.Context(), limit)
	if err != nil {
		s.fail(w, "get upcoming events", err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(events)})
}

// handleEventsInRange returns stored rows in a range without expansion.
//
// GET /api/calendar/events/range?start=2025-08-01&end=2025-08-31
func (s *Server) handleEventsInRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		writeError(w, http.StatusBadRequest, "start and end dates are required")
		return
	}
	start, errS := parseTimeParam(q.Get("start"))
	end, errE := parseTimeParam(q.Get("end"))
	if errS != nil || errE != nil {
		writeError(w, http.StatusBadRequest, "invalid date format")
		return
	}

	events, err := s.svc.StoredEventsInRange(r.Context(), start, end)
	if err != nil {
		s.fail(w, "get events in range", err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(events)})
}

type detailResponse struct {
	Event   *eventDTO       `json:"event"`
	Parent  *eventDTO       `json:"parent,omitempty"`
	Creator *calendar.Admin `json:"creator,omitempty"`
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, detailResponse{
		Event:   s.toDTO(d.Event),
		Parent:  s.toDTO(d.Parent),
		Creator: d.Creator,
	})
}

func (s *Server) handleAllEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.svc.ListAll(r.Context())
	if err != nil {
		s.fail(w, "list events", err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: s.toDTOs(events)})
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.svc.Templates()})
}

type createResponse struct {
	Message string    `json:"message"`
	Event   *eventDTO `json:"event"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var in calendar.EventInput
	if !decodeBody(w, r, &in) {
		return
	}
	if in.Title == nil || in.EventType == nil || in.StartDateTime == nil {
		writeError(w, http.StatusBadRequest, "missing required fields: title, event_type, start_datetime")
		return
	}

	ev, err := s.svc.Create(r.Context(), in, adminID)
	if err != nil {
		s.fail(w, "create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{Message: "Event created successfully", Event: s.toDTO(ev)})
}

func (s *Server) handleCreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	var in calendar.EventInput
	if !decodeBody(w, r, &in) {
		return
	}

	ev, err := s.svc.CreateFromTemplate(r.Context(), in.Template, in.EventPatch, adminID)
	if err != nil {
		s.fail(w, "create event from template", err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{Message: "Event created from template successfully", Event: s.toDTO(ev)})
}

type updateResponse struct {
	Message string         `json:"message"`
	Event   *eventDTO      `json:"event"`
	Updated calendar.Scope `json:"updated"`
}

// handleUpdate patches an event.
//
// PUT /api/calendar/admin/events/{id}?updateSeries=true
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch model.EventPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	series := r.URL.Query().Get("updateSeries") == "true"

	res, err := s.svc.Update(r.Context(), r.PathValue("id"), patch, series)
	if err != nil {
		s.fail(w, "update event", err)
		return
	}
	msg := "Event updated successfully"
	if res.Scope == calendar.ScopeSeries {
		msg = "Event series updated successfully"
	}
	writeJSON(w, http.StatusOK, updateResponse{Message: msg, Event: s.toDTO(res.Event), Updated: res.Scope})
}

type deleteResponse struct {
	Message string         `json:"message"`
	Deleted calendar.Scope `json:"deleted"`
	Count   int            `json:"count"`
}

// handleDelete soft-deletes an event, its series, or cancels one
// occurrence.
//
// DELETE /api/calendar/admin/events/{id}?deleteSeries=true
// DELETE /api/calendar/admin/events/{id}?occurrenceDate=2025-01-16
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query()

	var (
		res *calendar.DeleteResult
		err error
	)
	if day := q.Get("occurrenceDate"); day != "" {
		res, err = s.svc.DeleteOccurrence(r.Context(), id, day)
	} else {
		res, err = s.svc.Delete(r.Context(), id, q.Get("deleteSeries") == "true")
	}
	if err != nil {
		s.fail(w, "delete event", err)
		return
	}

	msg := "Event deleted successfully"
	switch res.Scope {
	case calendar.ScopeSeries:
		msg = "Event series deleted successfully"
	case calendar.ScopeOccurrence:
		msg = "Event occurrence deleted successfully"
	}
	writeJSON(w, http.StatusOK, deleteResponse{Message: msg, Deleted: res.Scope, Count: res.Count})
}

// handleFeed serves the ICS feed over the configured window. ?expand=true
// or ?expand=false overrides feed.expand.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	now := s.now().UTC()
	start, end := s.cfg.Feed.Window(now)
	expand := s.cfg.Feed.Expand
	if v := r.URL.Query().Get("expand"); v != "" {
		expand = v == "true"
	}

	body, err := ics.Export(r.Context(), s.svc, ics.FeedOptions{
		Name:        s.cfg.Feed.Name,
		Expand:      expand,
		WindowStart: start,
		WindowEnd:   end,
		Now:         now,
	})
	if err != nil {
		s.fail(w, "export feed", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

// fail maps engine errors to status codes. Unexpected errors are logged
// and reported without detail.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, calendar.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calendar.ErrPreconditionFailed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		appLog.Error("api: "+op+" failed", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to %s", op))
	}
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(adminHeader))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing "+adminHeader+" header")
		return "", false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// parseTimeParam accepts RFC 3339 or a bare YYYY-MM-DD (UTC midnight).
func parseTimeParam(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(model.DayLayout, s)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
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

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// logRequests logs every request except /health at debug level.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
