package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/flowscope/flowscope/internal/session"
	"github.com/flowscope/flowscope/internal/store"
	"github.com/flowscope/flowscope/internal/stream"
	"github.com/flowscope/flowscope/internal/validation"
	"github.com/flowscope/flowscope/pkg/schema"
)

// Deps holds the dependencies for the API server.
type Deps struct {
	Store     store.Store
	Validator *validation.GraphValidator
	Hub       stream.EventHub
	Logger    *slog.Logger

	// SessionConfig seeds every canvas session the server creates.
	SessionConfig session.Config
}

// Server exposes the admin console API: definition management, run event
// ingestion and history, live streams (SSE and WebSocket), and canvas
// sessions.
type Server struct {
	deps Deps

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

// sessionEntry pairs a canvas session with the run it watches and the
// generation its current graph was loaded under.
type sessionEntry struct {
	sess  *session.Session
	gen   uint64
	runID string
}

// NewServer creates an API server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		deps:     deps,
		sessions: make(map[string]*sessionEntry),
	}
}

// Handler returns the HTTP handler for the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Definitions.
	mux.HandleFunc("GET /api/definitions", s.handleListDefinitions)
	mux.HandleFunc("POST /api/definitions", s.handleSaveDefinition)
	mux.HandleFunc("GET /api/definitions/{name}", s.handleGetDefinition)
	mux.HandleFunc("GET /api/definitions/{name}/versions", s.handleListVersions)
	mux.HandleFunc("DELETE /api/definitions/{name}", s.handleDeleteDefinition)

	// Run events.
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("POST /api/runs/{id}/events", s.handleIngestRunEvent)
	mux.HandleFunc("GET /api/runs/{id}/events", s.handleGetRunEvents)

	// Live streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/runs/{id}", s.handleSSERun)
	mux.HandleFunc("GET /ws/runs/{id}", s.handleWSRun)

	// Canvas sessions.
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/sessions/{id}/canvas", s.handleCanvas)
	mux.HandleFunc("PATCH /api/sessions/{id}/nodes/{renderId}/position", s.handleSetPosition)
	mux.HandleFunc("POST /api/sessions/{id}/overlay", s.handleEnableOverlay)
	mux.HandleFunc("DELETE /api/sessions/{id}/overlay", s.handleDisableOverlay)
	mux.HandleFunc("POST /api/sessions/{id}/clear", s.handleClearRunState)

	return mux
}

// Close stops every live session.
func (s *Server) Close() {
	s.mu.Lock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for _, e := range entries {
		e.sess.Stop()
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeFlowError maps a FlowError code to an HTTP status and writes the
// structured error body.
func writeFlowError(w http.ResponseWriter, err error) {
	var ferr *schema.FlowError
	if !errors.As(err, &ferr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch ferr.Code {
	case schema.ErrCodeValidation, schema.ErrCodeInvalidGraph, schema.ErrCodeExpression:
		status = http.StatusBadRequest
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeConflict:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{
		"error":   ferr.Message,
		"code":    ferr.Code,
		"details": ferr.Details,
	})
}

// queryInt extracts an integer query param with a default value.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
