package tuned

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/looptune/looptune/internal/session"
	"github.com/looptune/looptune/pkg/logger"
)

// maxRequestBytes bounds a submitted program and its overrides.
const maxRequestBytes = 8 << 20

type HTTPServer struct {
	mux      *http.ServeMux
	store    *SessionStore
	Executor *Executor
	logger   *slog.Logger
}

func NewHTTPServer(executor *Executor) *HTTPServer {
	s := &HTTPServer{
		mux:      http.NewServeMux(),
		store:    executor.Store(),
		Executor: executor,
		logger:   logger.Default,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/sessions", s.handleSessions)
	s.mux.HandleFunc("/v1/sessions/", s.handleSessionByID)

	return s
}

// SetLogger sets the logger for request logging.
func (s *HTTPServer) SetLogger(l *slog.Logger) {
	s.logger = l
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleSessions handles /v1/sessions
func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSessionByID handles /v1/sessions/{id}, {id}:start, {id}:stop and
// {id}/report.
func (s *HTTPServer) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "session ID is required")
		return
	}

	route := func(suffix, method string, h func(http.ResponseWriter, *http.Request, string)) bool {
		if !strings.HasSuffix(path, suffix) {
			return false
		}
		if r.Method != method {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return true
		}
		h(w, r, strings.TrimSuffix(path, suffix))
		return true
	}
	switch {
	case route(":start", http.MethodPost, s.handleStartSession):
	case route(":stop", http.MethodPost, s.handleStopSession):
	case route("/report", http.MethodGet, s.handleGetReport):
	case strings.Contains(path, "/"):
		s.writeError(w, http.StatusNotFound, "not found")
	case r.Method == http.MethodGet:
		s.handleGetSession(w, r, path)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type createRequest struct {
	SessionID string       `json:"session_id"`
	Input     SessionInput `json:"input"`
	Start     bool         `json:"start"`
}

// handleCreateSession handles POST /v1/sessions
func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := s.Executor.Create(req.SessionID, req.Input)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			s.writeError(w, http.StatusBadRequest, err.Error())
		} else {
			s.writeError(w, http.StatusConflict, err.Error())
		}
		return
	}
	if req.Start {
		if rec, err = s.Executor.Start(rec.ID); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	s.writeJSON(w, http.StatusCreated, map[string]any{
		"session": sessionJSON(rec),
	})
}

// handleListSessions handles GET /v1/sessions?status=&limit=&offset=
func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := 50, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "offset must be non-negative")
			return
		}
		offset = n
	}
	var filter *Status
	if v := q.Get("status"); v != "" {
		st, ok := ParseStatus(v)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown status "+v)
			return
		}
		filter = &st
	}

	recs := s.store.List(limit, offset, filter)
	out := make([]any, 0, len(recs))
	for _, rec := range recs {
		out = append(out, sessionJSON(rec))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": out,
		"pagination": map[string]any{
			"limit":  limit,
			"offset": offset,
			"count":  len(recs),
		},
	})
}

// handleGetSession handles GET /v1/sessions/{id}
func (s *HTTPServer) handleGetSession(w http.ResponseWriter, _ *http.Request, id string) {
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionJSON(rec),
	})
}

// handleStartSession handles POST /v1/sessions/{id}:start
func (s *HTTPServer) handleStartSession(w http.ResponseWriter, _ *http.Request, id string) {
	updated, err := s.Executor.Start(id)
	if err != nil {
		s.writeExecutorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionJSON(updated),
	})
}

// handleStopSession handles POST /v1/sessions/{id}:stop
func (s *HTTPServer) handleStopSession(w http.ResponseWriter, _ *http.Request, id string) {
	updated, err := s.Executor.Stop(id)
	if err != nil {
		s.writeExecutorError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session": sessionJSON(updated),
	})
}

// handleGetReport handles GET /v1/sessions/{id}/report?format=yaml|json
func (s *HTTPServer) handleGetReport(w http.ResponseWriter, r *http.Request, id string) {
	rec, ok := s.store.Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if rec.Report == nil {
		s.writeError(w, http.StatusPreconditionFailed, "report not available")
		return
	}

	format := r.URL.Query().Get("format")
	switch format {
	case "", session.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
		format = session.FormatJSON
	case session.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
	default:
		s.writeError(w, http.StatusBadRequest, "unknown format "+format)
		return
	}
	w.WriteHeader(http.StatusOK)
	if err := rec.Report.Write(w, format); err != nil {
		s.logger.Error("Failed to write report", "session_id", id, "error", err)
	}
}

func (s *HTTPServer) writeExecutorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionTerminal):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrSessionIDMissing):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"error": msg})
}
