// ABOUTME: JSON HTTP API over the calendar service
// ABOUTME: Sync, single-event lookup, status, and disconnect endpoints with graceful shutdown
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/calmirror/models"
	calsync "github.com/harperreed/calmirror/sync"
)

// UserHeader carries the caller's identity, set by the upstream gateway.
const UserHeader = "X-User-ID"

// CalendarService is the subset of the sync service the API serves.
type CalendarService interface {
	SyncEvents(ctx context.Context, req calsync.SyncRequest) (*calsync.SyncResponse, error)
	GetEvent(ctx context.Context, userID, calendarID, eventID string) (*models.RawEvent, error)
	Status(ctx context.Context, userID string) (*calsync.Status, error)
	Disconnect(ctx context.Context, userID string) error
}

type Server struct {
	svc         CalendarService
	defaultUser string
	logger      *log.Logger
}

// NewServer creates an API server. defaultUser is used when a request
// carries no X-User-ID header; leave it empty to require the header.
func NewServer(svc CalendarService, defaultUser string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{svc: svc, defaultUser: defaultUser, logger: logger}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/calendar/events", s.withUser(s.handleEvents))
	mux.HandleFunc("GET /api/calendar/events/{id}", s.withUser(s.handleEvent))
	mux.HandleFunc("POST /api/calendar/sync", s.withUser(s.handleSync))
	mux.HandleFunc("GET /api/calendar/status", s.withUser(s.handleStatus))
	mux.HandleFunc("POST /api/calendar/disconnect", s.withUser(s.handleDisconnect))
	return s.logRequests(mux)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting API server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			userID = s.defaultUser
		}
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next(w, r, userID)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, userID string) {
	q := r.URL.Query()

	start, err := parseDate(q.Get("start_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date: "+err.Error())
		return
	}
	end, err := parseDate(q.Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date: "+err.Error())
		return
	}

	force := false
	if v := q.Get("force_full_sync"); v != "" {
		force, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid force_full_sync")
			return
		}
	}

	resp, err := s.svc.SyncEvents(r.Context(), calsync.SyncRequest{
		UserID:        userID,
		ForceFullSync: force,
		StartDate:     start,
		EndDate:       end,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type syncSummary struct {
	RunID        string                    `json:"run_id"`
	EventsSynced int                       `json:"events_synced"`
	Cache        calsync.CacheStats        `json:"cache"`
	SyncTokens   map[string]string         `json:"sync_tokens"`
	Calendars    []calsync.CalendarOutcome `json:"calendars"`
	Warnings     []string                  `json:"warnings,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, userID string) {
	resp, err := s.svc.SyncEvents(r.Context(), calsync.SyncRequest{UserID: userID, ForceFullSync: true})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	synced := len(resp.Events)
	if resp.FromCache {
		synced = 0
	}
	writeJSON(w, http.StatusOK, syncSummary{
		RunID:        resp.RunID,
		EventsSynced: synced,
		Cache:        resp.Cache,
		SyncTokens:   resp.SyncTokens,
		Calendars:    resp.Calendars,
		Warnings:     resp.Warnings,
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request, userID string) {
	event, err := s.svc.GetEvent(r.Context(), userID, r.URL.Query().Get("calendar_id"), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if len(event.Payload) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(event.Payload)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, userID string) {
	status, err := s.svc.Status(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request, userID string) {
	if err := s.svc.Disconnect(r.Context(), userID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var authErr *calsync.AuthError
	var dirErr *calsync.DirectoryError

	switch {
	case errors.Is(err, calsync.ErrNotConnected):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calsync.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, calsync.ErrEventNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &authErr):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &dirErr):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty means unset.
func parseDate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", v, time.UTC); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
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

		kv := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		}
		switch {
		case rec.status >= 500:
			s.logger.Error("request", kv...)
		case rec.status >= 400:
			s.logger.Warn("request", kv...)
		default:
			s.logger.Info("request", kv...)
		}
	})
}
