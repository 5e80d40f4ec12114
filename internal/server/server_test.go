// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-desk/internal/progress"
	"github.com/pdiddy/research-desk/internal/registry"
	"github.com/pdiddy/research-desk/pkg/types"
)

type frame struct {
	TaskID string          `json:"task_id"`
	Type   string          `json:"type"`
	Stage  string          `json:"stage"`
	Output json.RawMessage `json:"output"`
}

func (f frame) text() string {
	var s string
	if err := json.Unmarshal(f.Output, &s); err != nil {
		return string(f.Output)
	}
	return s
}

// scriptRunner runs a test-provided function as the task body.
type scriptRunner struct {
	script func(ctx context.Context, taskID string, cfg types.TaskConfig)
}

func (r *scriptRunner) Run(ctx context.Context, taskID string, cfg types.TaskConfig) (types.ResearchState, error) {
	r.script(ctx, taskID, cfg)
	return types.ResearchState{TaskID: taskID}, nil
}

type harness struct {
	reg    *registry.Registry
	router *progress.Router
	srv    *Server
	http   *httptest.Server
	runner *scriptRunner
}

// newHarness starts a server whose tasks run script. The script is fixed
// before the server starts so no test goroutine writes it concurrently.
func newHarness(t *testing.T, script func(h *harness, ctx context.Context, taskID string, cfg types.TaskConfig)) *harness {
	t.Helper()
	h := &harness{reg: registry.New(nil), runner: &scriptRunner{}}
	if script != nil {
		h.runner.script = func(ctx context.Context, taskID string, cfg types.TaskConfig) {
			script(h, ctx, taskID, cfg)
		}
	}
	h.router = progress.NewRouter(h.reg, nil)
	h.srv = New(h.reg, h.runner, h.router, WithWriteTimeout(time.Second))
	h.http = httptest.NewServer(h.srv.Handler())
	t.Cleanup(func() {
		h.http.Close()
		h.srv.Close()
		h.reg.Close()
	})
	return h
}

func (h *harness) emit(taskID string, cat types.Category, payload string) {
	h.router.Emit(types.NewEvent(taskID, cat, "test", payload))
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func read(t *testing.T, ws *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f), string(data))
	return f
}

func startTask(t *testing.T, ws *websocket.Conn) string {
	t.Helper()
	send(t, ws, map[string]any{"type": "start", "task": map[string]any{"query": "solar"}})
	f := read(t, ws)
	require.Equal(t, "task_id", f.Type)
	return f.text()
}

func TestStartStreamsEventsInOrder(t *testing.T) {
	queries := make(chan string, 1)
	h := newHarness(t, func(h *harness, ctx context.Context, taskID string, cfg types.TaskConfig) {
		queries <- cfg.Query
		h.emit(taskID, types.CategoryStatus, "one")
		h.emit(taskID, types.CategoryLogs, "two")
		h.emit(taskID, types.CategoryReport, "# Report")
	})

	ws := h.dial(t)
	taskID := startTask(t, ws)
	require.NotEmpty(t, taskID)

	var got []string
	for i := 0; i < 3; i++ {
		f := read(t, ws)
		assert.Equal(t, taskID, f.TaskID)
		got = append(got, f.Type+":"+f.text())
	}
	assert.Equal(t, []string{"status:one", "logs:two", "report:# Report"}, got)
	assert.Equal(t, "solar", <-queries)
}

func TestPingAnsweredWithPong(t *testing.T) {
	h := newHarness(t, nil)
	ws := h.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("ping")))
	send(t, ws, map[string]any{"type": "ping"})
	for i := 0; i < 2; i++ {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "pong", string(data))
	}
}

func TestBadMessagesGetErrorFrames(t *testing.T) {
	h := newHarness(t, nil)
	ws := h.dial(t)

	tests := []struct {
		msg  string
		want string
	}{
		{`{not json`, "malformed message"},
		{`{"type":"dance"}`, "unknown message type"},
		{`{"type":"start","task":{}}`, "requires a task with a query"},
		{`{"type":"attach","task_id":"nope"}`, "unknown task"},
		{`{"type":"human_feedback","value":["a"]}`, "no feedback request pending"},
	}
	for _, tt := range tests {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(tt.msg)))
		f := read(t, ws)
		assert.Equal(t, "error", f.Type, tt.msg)
		assert.Contains(t, f.text(), tt.want, tt.msg)
	}
}

func TestAttachFromNewConnectionReceivesBufferedEvents(t *testing.T) {
	proceed := make(chan struct{})
	finished := make(chan struct{})
	h := newHarness(t, func(h *harness, ctx context.Context, taskID string, cfg types.TaskConfig) {
		h.emit(taskID, types.CategoryLogs, "before")
		<-proceed
		h.emit(taskID, types.CategoryLogs, "after")
		h.emit(taskID, types.CategoryReport, "done")
		close(finished)
	})

	first := h.dial(t)
	taskID := startTask(t, first)
	assert.Equal(t, "before", read(t, first).text())

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	close(proceed)
	<-finished
	require.Eventually(t, func() bool { return h.reg.Buffered(taskID) == 2 }, 2*time.Second, 5*time.Millisecond)

	second := h.dial(t)
	send(t, second, map[string]any{"type": "attach", "task_id": taskID})
	assert.Equal(t, "after", read(t, second).text())
	f := read(t, second)
	assert.Equal(t, "report", f.Type)
	assert.Equal(t, "done", f.text())

	// The finished task is gone once its events were handed over.
	require.Eventually(t, func() bool {
		h.srv.mu.Lock()
		defer h.srv.mu.Unlock()
		return len(h.srv.tasks) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAttachDeliversTailOfFinishedTask(t *testing.T) {
	h := newHarness(t, nil)

	// A finished task whose connection dropped before the report was written
	// keeps the report in the registry but is no longer tracked by the server.
	h.emit("finished-1", types.CategoryReport, "final report")
	h.reg.UnbindTask("finished-1")
	require.Equal(t, 1, h.reg.Buffered("finished-1"))

	ws := h.dial(t)
	send(t, ws, map[string]any{"type": "attach", "task_id": "finished-1"})
	f := read(t, ws)
	assert.Equal(t, "report", f.Type)
	assert.Equal(t, "final report", f.text())

	require.Eventually(t, func() bool { return h.reg.Tasks() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHumanFeedbackReachesTask(t *testing.T) {
	replies := make(chan string, 1)
	h := newHarness(t, func(h *harness, ctx context.Context, taskID string, cfg types.TaskConfig) {
		h.reg.ExpectReply(taskID)
		h.emit(taskID, types.CategoryHumanFeedback, "plan")
		p, err := h.reg.AwaitReply(ctx, taskID)
		if err == nil {
			replies <- string(p)
		}
	})

	ws := h.dial(t)
	startTask(t, ws)
	f := read(t, ws)
	require.Equal(t, "human_feedback", f.Type)

	send(t, ws, map[string]any{"type": "human_feedback", "value": []string{"a", "b"}})
	select {
	case p := <-replies:
		assert.JSONEq(t, `["a","b"]`, p)
	case <-time.After(2 * time.Second):
		t.Fatal("feedback not delivered")
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t, nil)
	resp, err := http.Get(h.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestCloseCancelsRunningTasks(t *testing.T) {
	stopped := make(chan struct{})
	h := newHarness(t, func(h *harness, ctx context.Context, taskID string, cfg types.TaskConfig) {
		<-ctx.Done()
		close(stopped)
	})

	ws := h.dial(t)
	startTask(t, ws)
	h.srv.Close()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("task not cancelled")
	}
}
