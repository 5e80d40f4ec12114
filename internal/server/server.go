// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes research tasks over a websocket. Each connection is
// registered with the registry; a client starts a task, receives its progress
// events, answers feedback requests and may reattach to a running task from a
// new connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/progress"
	"github.com/pdiddy/research-desk/internal/registry"
	"github.com/pdiddy/research-desk/pkg/types"
)

// Inbound message types.
const (
	MsgStart         = "start"
	MsgAttach        = "attach"
	MsgPing          = registry.TypePing
	MsgHumanFeedback = "human_feedback"
)

const (
	defaultWriteTimeout = 10 * time.Second
	maxMessageBytes     = 1 << 20
)

// Runner executes one research task. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, taskID string, cfg types.TaskConfig) (types.ResearchState, error)
}

// Inbound is a client message.
type Inbound struct {
	Type   string            `json:"type"`
	TaskID string            `json:"task_id,omitempty"`
	Task   *types.TaskConfig `json:"task,omitempty"`
	Value  json.RawMessage   `json:"value,omitempty"`
}

type taskEntry struct {
	done bool
}

// Server accepts websocket clients and runs their tasks.
type Server struct {
	reg          *registry.Registry
	runner       Runner
	emitter      progress.Emitter
	log          *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	tasks map[string]*taskEntry
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithWriteTimeout bounds a single frame write to a client.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// New returns a server routing task events through emitter into reg.
func New(reg *registry.Registry, runner Runner, emitter progress.Emitter, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		reg:          reg,
		runner:       runner,
		emitter:      emitter,
		log:          zap.NewNop(),
		writeTimeout: defaultWriteTimeout,
		upgrader: websocket.Upgrader{
			// The service is meant for a local web client on another port.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*taskEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.Named("server")
	return s
}

// Handler returns the HTTP routes: /ws for clients and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe serves on addr until ctx ends, then shuts down and waits
// for running tasks.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close cancels running tasks and waits for them to return.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.mu.Lock()
	n := len(s.tasks)
	s.mu.Unlock()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.reg.Len(),
		"tasks":       n,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(maxMessageBytes)
	id := s.reg.Accept(&wsConn{ws: ws, writeTimeout: s.writeTimeout})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			s.log.Debug("read ended", zap.String("conn", string(id)), zap.Error(err))
			s.reg.Disconnect(id)
			return
		}
		s.dispatch(id, data)
	}
}

func (s *Server) dispatch(id registry.ConnID, data []byte) {
	if strings.TrimSpace(string(data)) == MsgPing {
		s.reg.Pong(id)
		return
	}

	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		s.replyError(id, "malformed message: "+err.Error())
		return
	}

	switch msg.Type {
	case MsgPing:
		s.reg.Pong(id)
	case MsgStart:
		s.start(id, msg)
	case MsgAttach:
		s.attach(id, msg.TaskID)
	case MsgHumanFeedback:
		s.feedback(id, msg)
	default:
		s.replyError(id, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Server) start(id registry.ConnID, msg Inbound) {
	if msg.Task == nil || strings.TrimSpace(msg.Task.Query) == "" {
		s.replyError(id, "start requires a task with a query")
		return
	}
	cfg := *msg.Task
	taskID := uuid.NewString()

	s.mu.Lock()
	s.tasks[taskID] = &taskEntry{}
	s.mu.Unlock()

	s.reg.Bind(taskID, id)
	s.emitter.Emit(types.NewEvent(taskID, types.CategoryTaskID, "", taskID))
	s.log.Info("task started", zap.String("task_id", taskID), zap.String("conn", string(id)))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runner.Run(s.ctx, taskID, cfg); err != nil {
			s.log.Warn("task failed", zap.String("task_id", taskID), zap.Error(err))
		} else {
			s.log.Info("task finished", zap.String("task_id", taskID))
		}
		s.finish(taskID)
	}()
}

// finish ends event delivery for a completed task. A task with no client
// attached keeps its buffered events until a client attaches.
func (s *Server) finish(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reg.Bound(taskID) {
		s.reg.UnbindTask(taskID)
		delete(s.tasks, taskID)
		return
	}
	if t, ok := s.tasks[taskID]; ok {
		t.done = true
	}
}

func (s *Server) attach(id registry.ConnID, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		// A finished task whose connection dropped before its last events
		// were written still holds them in the registry.
		if s.reg.Buffered(taskID) == 0 {
			s.replyError(id, fmt.Sprintf("unknown task %q", taskID))
			return
		}
		s.reg.Bind(taskID, id)
		s.log.Info("undelivered events of finished task sent",
			zap.String("task_id", taskID), zap.String("conn", string(id)))
		return
	}
	s.reg.Bind(taskID, id)
	if t.done {
		s.reg.UnbindTask(taskID)
		delete(s.tasks, taskID)
	}
	s.log.Info("task attached", zap.String("task_id", taskID), zap.String("conn", string(id)))
}

func (s *Server) feedback(id registry.ConnID, msg Inbound) {
	taskID := msg.TaskID
	if taskID == "" {
		taskID, _ = s.reg.TaskOf(id)
	}
	if taskID == "" || !s.reg.Reply(taskID, id, msg.Value) {
		s.log.Debug("feedback not expected", zap.String("conn", string(id)), zap.String("task_id", taskID))
		s.replyError(id, "no feedback request pending")
	}
}

func (s *Server) replyError(id registry.ConnID, text string) {
	body, err := progress.Encode(types.NewEvent("", types.CategoryError, "", text))
	if err != nil {
		s.log.Error("encoding error reply", zap.Error(err))
		return
	}
	s.reg.Direct(id, registry.Message{Type: string(types.CategoryError), Body: body})
}
