package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flowscope/flowscope/internal/session"
	"github.com/flowscope/flowscope/internal/stream"
	"github.com/flowscope/flowscope/pkg/schema"
)

// handleCreateSession creates a canvas session for a stored definition and
// lays out its graph. The optional run_id attaches the session to a run so
// ingested events reconcile onto its canvas.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Definition string `json:"definition"`
		Version    int    `json:"version"`
		RunID      string `json:"run_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Definition == "" {
		writeError(w, http.StatusBadRequest, "definition is required")
		return
	}

	stored, err := s.deps.Store.GetDefinition(ctx, body.Definition, body.Version)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	def, err := s.deps.Validator.ValidateDocument(stored.Document)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	cfg := s.deps.SessionConfig
	if cfg.Logger == nil {
		cfg.Logger = s.deps.Logger
	}
	sess, err := session.New(cfg)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	sess.Start()

	gen, err := sess.LoadGraph(def)
	if err != nil {
		sess.Stop()
		writeFlowError(w, err)
		return
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &sessionEntry{sess: sess, gen: gen, runID: body.RunID}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"generation": gen,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	entry, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}
	entry.sess.Stop()
	w.WriteHeader(http.StatusNoContent)
}

// handleCanvas returns the session's current canvas snapshot.
func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	snap, err := entry.sess.Snapshot()
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSetPosition applies a user drag to one rendered node.
func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var body struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	if err := entry.sess.SetPosition(r.PathValue("renderId"), body.X, body.Y); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableOverlay(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := entry.sess.EnableOverlay(body.Name); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDisableOverlay(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := entry.sess.DisableOverlay(); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearRunState(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	if err := entry.sess.ClearRunState(); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) session(id string) (*sessionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[id]
	return entry, ok
}

// forwardToSessions reconciles an ingested event onto every canvas session
// watching the run. Each delivery carries the generation the session's graph
// was loaded under, so superseded sessions drop it themselves.
func (s *Server) forwardToSessions(runID string, ev schema.ExecutionEvent) {
	s.mu.RLock()
	var targets []*sessionEntry
	for _, entry := range s.sessions {
		if entry.runID != "" && entry.runID == runID {
			targets = append(targets, entry)
		}
	}
	s.mu.RUnlock()

	for _, entry := range targets {
		if err := entry.sess.HandleEvent(entry.gen, ev); err != nil {
			s.deps.Logger.Warn("forward event to session",
				"session_id", entry.sess.ID, "run_id", runID, "error", err)
		}
	}
}

// HandleMetadata fans a poller snapshot out to every live session. Each
// delivery is tagged with the session's load generation; sessions that have
// since loaded a different graph drop it.
func (s *Server) HandleMetadata(snap map[string]*schema.NodeMetadata) {
	s.mu.RLock()
	targets := make([]*sessionEntry, 0, len(s.sessions))
	for _, entry := range s.sessions {
		targets = append(targets, entry)
	}
	s.mu.RUnlock()

	for _, entry := range targets {
		if err := entry.sess.HandleMetadata(entry.gen, snap); err != nil {
			s.deps.Logger.Warn("forward metadata to session",
				"session_id", entry.sess.ID, "error", err)
		}
	}
}

func (s *Server) toStreamEvent(runID string, ev schema.ExecutionEvent) stream.RunEvent {
	return stream.RunEvent{RunID: runID, Event: ev}
}
