package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/flowscope/flowscope/internal/store"
	"github.com/flowscope/flowscope/pkg/schema"
)

// handleSaveDefinition validates a definition document and stores it under
// the next version for its name. Invalid documents are never persisted.
func (s *Server) handleSaveDefinition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Name     string          `json:"name"`
		Document json.RawMessage `json:"document"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}
	if body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if _, err := s.deps.Validator.ValidateDocument(body.Document); err != nil {
		writeFlowError(w, err)
		return
	}

	def, err := s.deps.Store.SaveDefinition(ctx, body.Name, body.Document)
	if err != nil {
		writeFlowError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"name":    def.Name,
		"version": def.Version,
	})
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.deps.Store.ListDefinitions(r.Context())
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if defs == nil {
		defs = []*store.Definition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

// handleGetDefinition returns the named definition. The version query param
// selects a stored version; absent or 0 means latest.
func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version := queryInt(r, "version", 0)

	def, err := s.deps.Store.GetDefinition(r.Context(), name, version)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	versions, err := s.deps.Store.ListVersions(r.Context(), name)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if len(versions) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("definition %s not found", name))
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := s.deps.Store.DeleteDefinition(r.Context(), name); err != nil {
		writeFlowError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Run events ---

// handleIngestRunEvent persists one execution event under the run's next
// sequence, publishes it to live subscribers, and forwards it to canvas
// sessions watching the run.
func (s *Server) handleIngestRunEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := r.PathValue("id")

	var ev schema.ExecutionEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	rec := &store.RunEvent{RunID: runID, Event: ev}
	if err := s.deps.Store.AppendRunEvent(ctx, rec); err != nil {
		writeFlowError(w, err)
		return
	}

	if err := s.deps.Hub.Publish(ctx, s.toStreamEvent(runID, ev)); err != nil {
		s.deps.Logger.Warn("publish run event", "run_id", runID, "error", err)
	}
	s.forwardToSessions(runID, ev)

	writeJSON(w, http.StatusCreated, map[string]any{
		"run_id":   runID,
		"sequence": rec.Sequence,
	})
}

// handleGetRunEvents returns the persisted history for a run, from the
// sequence in the since query param (exclusive) onward.
func (s *Server) handleGetRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	since := int64(queryInt(r, "since", 0))

	events, err := s.deps.Store.GetRunEvents(r.Context(), runID, since)
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if events == nil {
		events = []*store.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.deps.Store.ListRuns(r.Context())
	if err != nil {
		writeFlowError(w, err)
		return
	}
	if runs == nil {
		runs = []string{}
	}
	writeJSON(w, http.StatusOK, runs)
}
