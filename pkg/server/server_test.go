package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/storyloom/storyloom/pkg/convo"
	"github.com/storyloom/storyloom/pkg/phase"
	"github.com/storyloom/storyloom/pkg/server"
	"github.com/storyloom/storyloom/pkg/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	engine := convo.New(storage.NewMemory())
	srv := server.New(engine, phase.NewTracker())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	} else {
		buf.WriteString("{}")
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func initThread(t *testing.T, ts *httptest.Server) {
	t.Helper()
	if code := doJSON(t, ts, "POST", "/api/thread", map[string]string{"topic": "test"}, nil); code != http.StatusOK {
		t.Fatalf("initialize: status %d", code)
	}
}

func sendMessage(t *testing.T, ts *httptest.Server, content string) convo.Message {
	t.Helper()
	var msg convo.Message
	code := doJSON(t, ts, "POST", "/api/thread/messages", map[string]string{"content": content}, &msg)
	if code != http.StatusCreated {
		t.Fatalf("send message: status %d", code)
	}
	return msg
}

func TestAPI_ThreadLifecycle(t *testing.T) {
	ts := newTestServer(t)

	// Operations before initialize conflict.
	if code := doJSON(t, ts, "POST", "/api/thread/messages", map[string]string{"content": "x"}, nil); code != http.StatusConflict {
		t.Errorf("send before init: status %d, want 409", code)
	}
	if code := doJSON(t, ts, "GET", "/api/thread", nil, nil); code != http.StatusNotFound {
		t.Errorf("get before init: status %d, want 404", code)
	}

	var thread convo.ThreadSnapshot
	if code := doJSON(t, ts, "POST", "/api/thread", map[string]string{"topic": "the voyage"}, &thread); code != http.StatusOK {
		t.Fatalf("initialize: status %d", code)
	}
	if thread.CurrentBranchID != convo.MainBranchID || len(thread.Branches) != 1 {
		t.Errorf("fresh thread shape: current=%s branches=%d", thread.CurrentBranchID, len(thread.Branches))
	}

	msg := sendMessage(t, ts, "It begins.")
	if msg.Role != convo.RoleUser || msg.SequenceIndex != 0 {
		t.Errorf("message shape: %+v", msg)
	}

	var msgs []convo.Message
	if code := doJSON(t, ts, "GET", "/api/thread/messages", nil, &msgs); code != http.StatusOK {
		t.Fatalf("list messages: status %d", code)
	}
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Error("listed messages mismatch")
	}

	var stats convo.Stats
	doJSON(t, ts, "GET", "/api/thread/stats", nil, &stats)
	if stats.TotalMessages != 1 || stats.UserMessages != 1 {
		t.Errorf("stats: %+v", stats)
	}

	if code := doJSON(t, ts, "POST", "/api/thread/clear", nil, nil); code != http.StatusNoContent {
		t.Errorf("clear: status %d", code)
	}
	doJSON(t, ts, "GET", "/api/thread/messages", nil, &msgs)
	if len(msgs) != 0 {
		t.Error("messages survived clear")
	}
}

func TestAPI_Branches(t *testing.T) {
	ts := newTestServer(t)
	initThread(t, ts)
	m1 := sendMessage(t, ts, "one")
	sendMessage(t, ts, "two")

	var branch convo.Branch
	code := doJSON(t, ts, "POST", "/api/thread/branches", map[string]string{
		"name":               "what if",
		"forkPointMessageId": m1.ID,
	}, &branch)
	if code != http.StatusCreated {
		t.Fatalf("create branch: status %d", code)
	}
	if branch.ForkPointMessageID != m1.ID {
		t.Errorf("fork point: got %s", branch.ForkPointMessageID)
	}

	// Unknown fork point is a 404.
	if code := doJSON(t, ts, "POST", "/api/thread/branches", map[string]string{"name": "x", "forkPointMessageId": "nope"}, nil); code != http.StatusNotFound {
		t.Errorf("create with bad fork point: status %d, want 404", code)
	}

	var nav convo.Navigation
	code = doJSON(t, ts, "POST", fmt.Sprintf("/api/thread/branches/%s/switch", branch.ID), nil, &nav)
	if code != http.StatusOK {
		t.Fatalf("switch: status %d", code)
	}
	if nav.CurrentBranchID != branch.ID || !nav.CanNavigateBack {
		t.Errorf("navigation after switch: %+v", nav)
	}
	if code := doJSON(t, ts, "POST", "/api/thread/branches/missing/switch", nil, nil); code != http.StatusNotFound {
		t.Errorf("switch unknown: status %d, want 404", code)
	}

	if code := doJSON(t, ts, "POST", fmt.Sprintf("/api/thread/branches/%s/rename", branch.ID), map[string]string{"name": "renamed"}, nil); code != http.StatusNoContent {
		t.Errorf("rename: status %d", code)
	}

	var branches []convo.Branch
	doJSON(t, ts, "GET", "/api/thread/branches", nil, &branches)
	if len(branches) != 2 {
		t.Fatalf("branch list: got %d", len(branches))
	}
	if branches[1].Name != "renamed" {
		t.Errorf("rename not visible: %s", branches[1].Name)
	}

	// Main cannot be deleted.
	if code := doJSON(t, ts, "DELETE", "/api/thread/branches/main", nil, nil); code != http.StatusConflict {
		t.Errorf("delete main: status %d, want 409", code)
	}
	if code := doJSON(t, ts, "DELETE", fmt.Sprintf("/api/thread/branches/%s", branch.ID), nil, nil); code != http.StatusNoContent {
		t.Errorf("delete branch: status %d", code)
	}
	doJSON(t, ts, "GET", "/api/thread/navigation", nil, &nav)
	if nav.CurrentBranchID != convo.MainBranchID {
		t.Errorf("after deleting active branch: on %s", nav.CurrentBranchID)
	}
}

func TestAPI_BackForward(t *testing.T) {
	ts := newTestServer(t)
	initThread(t, ts)
	sendMessage(t, ts, "one")

	var branch convo.Branch
	doJSON(t, ts, "POST", "/api/thread/branches", map[string]string{"name": "alt"}, &branch)
	doJSON(t, ts, "POST", fmt.Sprintf("/api/thread/branches/%s/switch", branch.ID), nil, nil)

	var result struct {
		Moved      bool             `json:"moved"`
		Navigation convo.Navigation `json:"navigation"`
	}
	doJSON(t, ts, "POST", "/api/thread/back", nil, &result)
	if !result.Moved || result.Navigation.CurrentBranchID != convo.MainBranchID {
		t.Errorf("back: %+v", result)
	}

	doJSON(t, ts, "POST", "/api/thread/forward", nil, &result)
	if !result.Moved || result.Navigation.CurrentBranchID != branch.ID {
		t.Errorf("forward: %+v", result)
	}

	// Forward again with an empty stack just reports no movement.
	doJSON(t, ts, "POST", "/api/thread/forward", nil, &result)
	if result.Moved {
		t.Error("forward on empty stack reported movement")
	}
}

func TestAPI_ExportImport(t *testing.T) {
	ts := newTestServer(t)
	initThread(t, ts)
	sendMessage(t, ts, "exported")

	req, _ := http.NewRequest("GET", ts.URL+"/api/thread/export", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: status %d", resp.StatusCode)
	}
	var snap json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}

	// Import the snapshot into a second server.
	ts2 := newTestServer(t)
	initThread(t, ts2)
	r2, err := ts2.Client().Post(ts2.URL+"/api/thread/import", "application/json", bytes.NewReader(snap))
	if err != nil {
		t.Fatal(err)
	}
	r2.Body.Close()
	if r2.StatusCode != http.StatusNoContent {
		t.Fatalf("import: status %d", r2.StatusCode)
	}

	var msgs []convo.Message
	doJSON(t, ts2, "GET", "/api/thread/messages", nil, &msgs)
	if len(msgs) != 1 || msgs[0].Content != "exported" {
		t.Error("imported view mismatch")
	}

	// Garbage is a 400.
	r3, err := ts2.Client().Post(ts2.URL+"/api/thread/import", "application/json", bytes.NewReader([]byte(`{"nope": true}`)))
	if err != nil {
		t.Fatal(err)
	}
	r3.Body.Close()
	if r3.StatusCode != http.StatusBadRequest {
		t.Errorf("import garbage: status %d, want 400", r3.StatusCode)
	}
}

func TestAPI_Phases(t *testing.T) {
	ts := newTestServer(t)

	var res map[string]string
	doJSON(t, ts, "GET", "/api/phase", nil, &res)
	if res["phase"] != "premise" {
		t.Errorf("initial phase: %s", res["phase"])
	}

	// Retreat at the start is a 400.
	if code := doJSON(t, ts, "POST", "/api/phase/retreat", nil, nil); code != http.StatusBadRequest {
		t.Errorf("retreat at start: status %d, want 400", code)
	}

	doJSON(t, ts, "POST", "/api/phase/advance", nil, &res)
	if res["phase"] != "character-development" {
		t.Errorf("after advance: %s", res["phase"])
	}

	// Initializing without a topic inherits the current phase as topic.
	var thread convo.ThreadSnapshot
	doJSON(t, ts, "POST", "/api/thread", map[string]string{}, &thread)
	if thread.Metadata.Topic != "character-development" {
		t.Errorf("phase topic: %s", thread.Metadata.Topic)
	}
}

func TestAPI_Watch(t *testing.T) {
	ts := newTestServer(t)
	initThread(t, ts)
	sendMessage(t, ts, "before connect")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/thread/watch"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var update struct {
		Messages   []convo.Message  `json:"messages"`
		Navigation convo.Navigation `json:"navigation"`
		Stats      convo.Stats      `json:"stats"`
	}

	// Initial frame carries the current view.
	if err := ws.ReadJSON(&update); err != nil {
		t.Fatal(err)
	}
	if len(update.Messages) != 1 || update.Navigation.CurrentBranchID != convo.MainBranchID {
		t.Errorf("initial frame: %+v", update)
	}

	// A mutation triggers a fresh frame.
	sendMessage(t, ts, "after connect")
	if err := ws.ReadJSON(&update); err != nil {
		t.Fatal(err)
	}
	if len(update.Messages) != 2 || update.Stats.TotalMessages != 2 {
		t.Errorf("update frame: %d messages, stats %+v", len(update.Messages), update.Stats)
	}
}

func TestAPI_CORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/api/thread", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("preflight: status %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}
