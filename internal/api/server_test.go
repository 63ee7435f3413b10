package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowscope/flowscope/internal/session"
	"github.com/flowscope/flowscope/internal/store"
	"github.com/flowscope/flowscope/internal/stream"
	"github.com/flowscope/flowscope/internal/validation"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))

	v, err := validation.NewGraphValidator()
	require.NoError(t, err)

	srv := NewServer(Deps{
		Store:         st,
		Validator:     v,
		Hub:           stream.NewMemoryHub(),
		SessionConfig: session.DefaultConfig(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
		_ = st.Close()
	})
	return srv, ts
}

const validDocument = `{
	"nodes": [
		{"id": "router", "kind": "orchestrator", "label": "Router", "model_id": "gpt-4o"},
		{"id": "research", "kind": "agent", "label": "Research", "model_id": "claude-sonnet-4"}
	],
	"edges": [
		{"id": "e1", "source": "router", "target": "research"},
		{"id": "e2", "source": "research", "target": "__end__"}
	],
	"subgraphs": {
		"sub_agents": {
			"nodes": [{"id": "browse", "kind": "sub_agent", "label": "Browse"}],
			"edges": []
		}
	}
}`

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func saveDefinition(t *testing.T, ts *httptest.Server, name string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"name":     name,
		"document": json.RawMessage(validDocument),
	})
	require.NoError(t, err)
	resp := postJSON(t, ts.URL+"/api/definitions", string(payload))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
}

// --- Definitions ---

func TestSaveAndGetDefinitionRoundTrip(t *testing.T) {
	_, ts := newTestServer(t)

	saveDefinition(t, ts, "support-triage")

	resp, err := http.Get(ts.URL + "/api/definitions/support-triage")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var def store.Definition
	decodeBody(t, resp, &def)
	assert.Equal(t, 1, def.Version)
	assert.JSONEq(t, validDocument, string(def.Document))
}

func TestSaveDefinitionRejectsInvalidDocument(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/definitions",
		`{"name": "broken", "document": {"nodes": [], "edges": []}}`)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Nothing was stored.
	get, err := http.Get(ts.URL + "/api/definitions/broken")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusNotFound, get.StatusCode)
}

func TestListAndDeleteDefinitions(t *testing.T) {
	_, ts := newTestServer(t)

	saveDefinition(t, ts, "alpha")
	saveDefinition(t, ts, "alpha")
	saveDefinition(t, ts, "beta")

	resp, err := http.Get(ts.URL + "/api/definitions")
	require.NoError(t, err)
	var defs []store.Definition
	decodeBody(t, resp, &defs)
	require.Len(t, defs, 2, "latest version per name")

	resp, err = http.Get(ts.URL + "/api/definitions/alpha/versions")
	require.NoError(t, err)
	var versions []store.Definition
	decodeBody(t, resp, &versions)
	assert.Len(t, versions, 2)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/definitions/alpha", nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)
}

// --- Run events ---

func TestIngestRunEventPersistsAndSequences(t *testing.T) {
	_, ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		resp := postJSON(t, ts.URL+"/api/runs/run-1/events",
			fmt.Sprintf(`{"type": "node_entered", "node": "router", "timestamp": %d}`, i))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		var out struct {
			Sequence int64 `json:"sequence"`
		}
		decodeBody(t, resp, &out)
		assert.Equal(t, int64(i+1), out.Sequence)
	}

	resp, err := http.Get(ts.URL + "/api/runs/run-1/events?since=1")
	require.NoError(t, err)
	var events []store.RunEvent
	decodeBody(t, resp, &events)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)

	resp, err = http.Get(ts.URL + "/api/runs")
	require.NoError(t, err)
	var runs []string
	decodeBody(t, resp, &runs)
	assert.Equal(t, []string{"run-1"}, runs)
}

func TestIngestRunEventPublishesToHub(t *testing.T) {
	srv, ts := newTestServer(t)

	ch, cancel, err := srv.deps.Hub.Subscribe(context.Background(), stream.EventFilter{RunID: "run-live"})
	require.NoError(t, err)
	defer cancel()

	resp := postJSON(t, ts.URL+"/api/runs/run-live/events",
		`{"type": "tool_start", "node": "research", "tool": "web_search", "timestamp": 1}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	select {
	case ev := <-ch:
		assert.Equal(t, "run-live", ev.RunID)
		assert.Equal(t, "web_search", ev.Event.Tool)
	case <-time.After(time.Second):
		t.Fatal("event never reached the hub")
	}
}

// --- Sessions ---

func createSession(t *testing.T, ts *httptest.Server, runID string) string {
	t.Helper()
	resp := postJSON(t, ts.URL+"/api/sessions",
		fmt.Sprintf(`{"definition": "support-triage", "run_id": %q}`, runID))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out struct {
		SessionID string `json:"session_id"`
	}
	decodeBody(t, resp, &out)
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func getCanvas(t *testing.T, ts *httptest.Server, sessionID string) session.Snapshot {
	t.Helper()
	resp, err := http.Get(ts.URL + "/api/sessions/" + sessionID + "/canvas")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap session.Snapshot
	decodeBody(t, resp, &snap)
	return snap
}

func TestSessionLifecycle(t *testing.T) {
	_, ts := newTestServer(t)
	saveDefinition(t, ts, "support-triage")

	id := createSession(t, ts, "run-7")

	snap := getCanvas(t, ts, id)
	assert.Len(t, snap.Nodes, 3, "router, research, synthesized terminal")

	// An ingested event for the watched run lights up the canvas.
	resp := postJSON(t, ts.URL+"/api/runs/run-7/events",
		`{"type": "node_entered", "node": "router", "timestamp": 1}`)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	snap = getCanvas(t, ts, id)
	active := 0
	for _, n := range snap.Nodes {
		if n.Active {
			active++
		}
	}
	assert.Equal(t, 1, active)

	// Clear drops the stale activity.
	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/clear", `{}`)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	snap = getCanvas(t, ts, id)
	for _, n := range snap.Nodes {
		assert.False(t, n.Active)
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/"+id, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	get, err := http.Get(ts.URL + "/api/sessions/" + id + "/canvas")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusNotFound, get.StatusCode)
}

func TestSessionDragAndOverlay(t *testing.T) {
	_, ts := newTestServer(t)
	saveDefinition(t, ts, "support-triage")
	id := createSession(t, ts, "")

	req, err := http.NewRequest(http.MethodPatch,
		ts.URL+"/api/sessions/"+id+"/nodes/router/position",
		bytes.NewReader([]byte(`{"x": 42, "y": 99}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/overlay", `{"name": "sub_agents"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	snap := getCanvas(t, ts, id)
	assert.Equal(t, "sub_agents", snap.Overlay)
	assert.Len(t, snap.Nodes, 4, "3 primary + 1 overlay")
	for _, n := range snap.Nodes {
		if n.RenderID.String() == "router" {
			assert.Equal(t, 42.0, n.X, "drag survives the overlay re-layout")
		}
	}

	resp = postJSON(t, ts.URL+"/api/sessions/"+id+"/overlay", `{"name": "nope"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateSessionUnknownDefinition(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/sessions", `{"definition": "missing"}`)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// --- Streams ---

func TestWSRunStreamFeedsClient(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/runs/run-ws"
	c, err := stream.Open(context.Background(), wsURL, nil)
	require.NoError(t, err)
	defer c.Close()

	// Give the server's subscription a moment to register.
	require.Eventually(t, func() bool {
		resp := postJSON(t, ts.URL+"/api/runs/run-ws/events",
			`{"type": "node_entered", "node": "router", "timestamp": 1}`)
		resp.Body.Close()
		select {
		case ev := <-c.Events():
			assert.Equal(t, "router", ev.Node)
			return true
		case <-time.After(100 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 50*time.Millisecond)
}
