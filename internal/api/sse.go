package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/flowscope/flowscope/internal/stream"
)

// handleSSEGlobal streams all run events to the client via Server-Sent Events.
func (s *Server) handleSSEGlobal(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, stream.EventFilter{})
}

// handleSSERun streams events for a specific run.
func (s *Server) handleSSERun(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, stream.EventFilter{RunID: r.PathValue("id")})
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter stream.EventFilter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Event.Type, data)
			flusher.Flush()
		}
	}
}

var wsUpgrader = websocket.Upgrader{
	// Admin console endpoints sit behind the operator's own origin checks.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWSRun streams a run's execution events over WebSocket, one JSON
// frame per event. This is the endpoint the canvas stream client dials.
func (s *Server) handleWSRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), stream.EventFilter{RunID: runID})
	if err != nil {
		s.deps.Logger.Error("WS subscribe failed", "run_id", runID, "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Logger.Error("WS upgrade failed", "run_id", runID, "error", err)
		return
	}
	defer conn.Close()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event.Event); err != nil {
				return
			}
		}
	}
}
