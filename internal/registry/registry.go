// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package registry owns the live client connections and routes task messages
// to whichever connection is currently bound to the task.
//
// Every connection has an unbounded FIFO outbound queue drained by its own
// sender goroutine. A task is bound to at most one connection at a time; when a
// task moves to a new connection, messages still queued for it on the old one
// move with it, ahead of anything produced later. Messages for a task with no
// bound connection wait in a task-scoped buffer. A message being written when
// its task moves holds back the task's later messages on the new connection
// until that write succeeds or fails, so a failed write is retried in order.
// All state is guarded by one lock and is only reachable through Registry
// methods.
package registry

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TypePing is the reserved liveness message type. It is answered with a pong
// frame and never enters a connection's event queue.
const TypePing = "ping"

var pongFrame = []byte("pong")

// maxRetired bounds the set of recently unbound task ids whose late messages
// are dropped instead of buffered.
const maxRetired = 1024

// Conn is the transport side of one client connection.
type Conn interface {
	// Send writes one frame to the client.
	Send(frame []byte) error
	// Close releases the transport.
	Close() error
}

// ConnID is the opaque handle of an accepted connection.
type ConnID string

// Message is one outbound frame addressed to a task.
type Message struct {
	// Type is the event category, or TypePing for a liveness check.
	Type string
	// Body is the encoded frame written to the client.
	Body []byte
}

type envelope struct {
	taskID string
	msg    Message
}

type connection struct {
	id       ConnID
	conn     Conn
	queue    []envelope
	inflight *envelope
	pongs    int
	task     string
	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
}

func (c *connection) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// holds reports whether c has a queued or in-flight message for taskID.
func (c *connection) holds(taskID string) bool {
	if c.inflight != nil && c.inflight.taskID == taskID {
		return true
	}
	for _, e := range c.queue {
		if e.taskID == taskID {
			return true
		}
	}
	return false
}

// take removes and returns, in order, the queued envelopes for taskID.
func (c *connection) take(taskID string) []envelope {
	var moved, kept []envelope
	for _, e := range c.queue {
		if e.taskID == taskID {
			moved = append(moved, e)
		} else {
			kept = append(kept, e)
		}
	}
	c.queue = kept
	return moved
}

type retiredID struct {
	id  string
	seq uint64
}

type task struct {
	conn   *connection
	buffer []envelope

	// closed tasks drop new messages and are forgotten once nothing of
	// theirs is left to deliver.
	closed bool
	// drain is the connection still holding queued messages of a closed task.
	drain *connection
	// heldBy is a previous connection still writing one of the task's
	// messages. Other connections wait for it before sending for the task.
	heldBy *connection

	awaiting bool
	replies  chan []byte
}

// Registry tracks live connections and task bindings.
type Registry struct {
	log *zap.Logger

	mu      sync.Mutex
	conns   map[ConnID]*connection
	tasks   map[string]*task
	retired map[string]uint64
	order   []retiredID
	seq     uint64

	wg sync.WaitGroup
}

// New creates an empty registry.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:   log.Named("registry"),
		conns:   make(map[ConnID]*connection),
		tasks:   make(map[string]*task),
		retired: make(map[string]uint64),
	}
}

// Accept registers conn, allocates its outbound queue and starts its sender
// loop.
func (r *Registry) Accept(conn Conn) ConnID {
	c := &connection{
		id:   ConnID(uuid.NewString()),
		conn: conn,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	r.conns[c.id] = c
	r.mu.Unlock()

	r.wg.Add(1)
	go r.sendLoop(c)

	r.log.Debug("connection accepted", zap.String("conn", string(c.id)))
	return c.id
}

// Bind attaches taskID to the connection id. A connection serves one task at
// a time, so a task previously bound to id is detached first. Messages queued
// for taskID on its previous connection, or buffered while it was detached,
// are moved in order onto id's queue. Binding a closed task delivers what it
// still holds without binding it again.
func (r *Registry) Bind(taskID string, id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.retired, taskID)
	t := r.taskLocked(taskID)

	c, ok := r.conns[id]
	if !ok {
		r.log.Warn("bind to unknown connection; task stays detached",
			zap.String("task_id", taskID), zap.String("conn", string(id)))
		return
	}

	if t.closed {
		if len(t.buffer) > 0 && t.drain == nil {
			c.queue = append(c.queue, t.buffer...)
			t.buffer = nil
			t.drain = c
			c.notify()
		}
		r.collectLocked(taskID, t)
		return
	}
	if t.conn == c {
		return
	}

	if c.task != "" {
		r.detachLocked(c)
	}

	var moved []envelope
	if old := t.conn; old != nil {
		moved = old.take(taskID)
		old.task = ""
		r.holdLocked(t, old, taskID)
		r.log.Debug("task rebound",
			zap.String("task_id", taskID),
			zap.String("from", string(old.id)),
			zap.String("to", string(id)),
			zap.Int("moved", len(moved)),
			zap.Bool("held", t.heldBy != nil))
	}
	moved = append(moved, t.buffer...)
	t.buffer = nil

	t.conn = c
	c.task = taskID
	if len(moved) > 0 {
		c.queue = append(c.queue, moved...)
		c.notify()
	}
}

// Enqueue routes msg to the connection bound to taskID. With no bound
// connection the message is buffered until one binds. A ping is answered with
// a pong on the bound connection instead of being queued.
func (r *Registry) Enqueue(taskID string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.Type == TypePing {
		t := r.tasks[taskID]
		if t == nil || t.conn == nil {
			r.log.Debug("ping for detached task dropped", zap.String("task_id", taskID))
			return
		}
		t.conn.pongs++
		t.conn.notify()
		return
	}

	t, ok := r.tasks[taskID]
	if !ok {
		if _, gone := r.retired[taskID]; gone {
			r.log.Debug("message for finished task dropped",
				zap.String("task_id", taskID), zap.String("type", msg.Type))
			return
		}
		t = r.taskLocked(taskID)
	}
	if t.closed {
		r.log.Debug("message for unbound task dropped",
			zap.String("task_id", taskID), zap.String("type", msg.Type))
		return
	}

	e := envelope{taskID: taskID, msg: msg}
	if t.conn == nil {
		t.buffer = append(t.buffer, e)
		return
	}
	t.conn.queue = append(t.conn.queue, e)
	t.conn.notify()
}

// Direct queues a connection-level message that belongs to no task, such as
// a reply to a malformed request.
func (r *Registry) Direct(id ConnID, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		r.log.Debug("direct message for unknown connection", zap.String("conn", string(id)))
		return
	}
	c.queue = append(c.queue, envelope{msg: msg})
	c.notify()
}

// Pong answers a ping on a connection that has no task yet.
func (r *Registry) Pong(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.pongs++
		c.notify()
	}
}

// UnbindTask ends event delivery for taskID. Messages already queued on its
// connection still drain and the connection stays open for another task.
// Later messages for the task are dropped. If the connection goes away before
// the queued messages drain they are kept for the next Bind of the task. The
// task is forgotten once it has nothing left to deliver.
func (r *Registry) UnbindTask(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok {
		r.log.Debug("unbind of unknown task", zap.String("task_id", taskID))
		return
	}
	if c := t.conn; c != nil {
		if c.task == taskID {
			c.task = ""
		}
		t.conn = nil
		if c.holds(taskID) {
			t.drain = c
		}
	}
	t.closed = true
	r.collectLocked(taskID, t)
}

// Disconnect removes the connection, stops its sender loop and closes the
// transport. Undelivered messages of its bound task return to the task buffer
// so a reconnect receives them. Disconnecting an absent connection is a no-op.
func (r *Registry) Disconnect(id ConnID) {
	r.mu.Lock()
	c, ok := r.disconnectLocked(id)
	r.mu.Unlock()

	if !ok {
		r.log.Debug("disconnect of unknown connection", zap.String("conn", string(id)))
		return
	}
	if err := c.conn.Close(); err != nil {
		r.log.Debug("closing connection", zap.String("conn", string(id)), zap.Error(err))
	}
	r.log.Debug("connection removed", zap.String("conn", string(id)))
}

// Reply delivers a feedback payload for taskID. It is accepted only from the
// task's bound connection while the task is waiting for feedback, and only
// once per wait.
func (r *Registry) Reply(taskID string, from ConnID, payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[taskID]
	if !ok || t.conn == nil || t.conn.id != from || !t.awaiting {
		return false
	}
	select {
	case t.replies <- payload:
		t.awaiting = false
		return true
	default:
		return false
	}
}

// ExpectReply opens the feedback mailbox for taskID ahead of AwaitReply, so
// a reply sent right after the request event is not rejected.
func (r *Registry) ExpectReply(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[taskID]; ok && !t.closed {
		t.awaiting = true
	}
}

// AwaitReply blocks until one feedback reply for taskID arrives or ctx ends.
// A reply accepted since the matching ExpectReply is returned immediately.
func (r *Registry) AwaitReply(ctx context.Context, taskID string) ([]byte, error) {
	r.mu.Lock()
	t := r.taskLocked(taskID)
	ch := t.replies
	if len(ch) == 0 {
		t.awaiting = true
	}
	r.mu.Unlock()

	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		r.mu.Lock()
		t.awaiting = false
		r.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Bound reports whether taskID currently has a connection.
func (r *Registry) Bound(taskID string) bool {
	_, ok := r.Owner(taskID)
	return ok
}

// Owner returns the connection bound to taskID.
func (r *Registry) Owner(taskID string) (ConnID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok || t.conn == nil {
		return "", false
	}
	return t.conn.id, true
}

// TaskOf returns the task bound to the connection.
func (r *Registry) TaskOf(id ConnID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok || c.task == "" {
		return "", false
	}
	return c.task, true
}

// Buffered returns the number of messages held for a detached task, including
// the undelivered tail of a closed task whose connection went away.
func (r *Registry) Buffered(taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[taskID]; ok {
		return len(t.buffer)
	}
	return 0
}

// Tasks returns the number of tasks the registry still tracks.
func (r *Registry) Tasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Close disconnects every connection and waits for the sender loops to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Disconnect(id)
	}
	r.wg.Wait()
}

func (r *Registry) taskLocked(taskID string) *task {
	t, ok := r.tasks[taskID]
	if !ok {
		t = &task{replies: make(chan []byte, 1)}
		r.tasks[taskID] = t
	}
	return t
}

// detachLocked unbinds c from its task, moving the task's queued messages
// back into the task buffer ahead of anything already buffered.
func (r *Registry) detachLocked(c *connection) {
	t, ok := r.tasks[c.task]
	if ok && t.conn == c {
		t.conn = nil
		t.buffer = append(c.take(c.task), t.buffer...)
		r.holdLocked(t, c, c.task)
	}
	c.task = ""
}

// holdLocked makes the task wait for c when c is writing one of its messages.
func (r *Registry) holdLocked(t *task, c *connection, taskID string) {
	if c.inflight != nil && c.inflight.taskID == taskID {
		t.heldBy = c
	}
}

// releaseLocked ends a hold once c's write for taskID has resolved.
func (r *Registry) releaseLocked(c *connection, taskID string) {
	t, ok := r.tasks[taskID]
	if !ok {
		return
	}
	if t.heldBy == c {
		t.heldBy = nil
		if t.conn != nil {
			t.conn.notify()
		}
		if t.drain != nil {
			t.drain.notify()
		}
	}
	if t.drain == c && !c.holds(taskID) {
		t.drain = nil
	}
	r.collectLocked(taskID, t)
}

// collectLocked forgets a closed task with nothing left to deliver.
func (r *Registry) collectLocked(taskID string, t *task) {
	if !t.closed || t.conn != nil || t.drain != nil || t.heldBy != nil || len(t.buffer) > 0 {
		return
	}
	delete(r.tasks, taskID)

	r.seq++
	r.retired[taskID] = r.seq
	r.order = append(r.order, retiredID{id: taskID, seq: r.seq})
	if len(r.order) > maxRetired {
		oldest := r.order[0]
		r.order = r.order[1:]
		if r.retired[oldest.id] == oldest.seq {
			delete(r.retired, oldest.id)
		}
	}
}

func (r *Registry) disconnectLocked(id ConnID) (*connection, bool) {
	c, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	delete(r.conns, id)
	if c.task != "" {
		r.detachLocked(c)
	}

	dropped := 0
	for _, e := range c.queue {
		if e.taskID == "" {
			dropped++
		}
	}
	if dropped > 0 {
		r.log.Debug("dropping connection-level messages",
			zap.String("conn", string(id)), zap.Int("count", dropped))
	}
	r.rescueLocked(c)
	c.queue = nil
	c.pongs = 0
	close(c.stop)
	return c, true
}

// rescueLocked returns queued messages of closed tasks draining on c to their
// task buffers so a later Bind still delivers them.
func (r *Registry) rescueLocked(c *connection) {
	var taskIDs []string
	rescued := make(map[string][]envelope)
	for _, e := range c.queue {
		if e.taskID == "" {
			continue
		}
		if _, seen := rescued[e.taskID]; !seen {
			taskIDs = append(taskIDs, e.taskID)
		}
		rescued[e.taskID] = append(rescued[e.taskID], e)
	}
	for _, taskID := range taskIDs {
		t, ok := r.tasks[taskID]
		if !ok {
			r.log.Warn("undelivered messages lost with connection",
				zap.String("conn", string(c.id)), zap.String("task_id", taskID),
				zap.Int("count", len(rescued[taskID])))
			continue
		}
		t.buffer = append(rescued[taskID], t.buffer...)
		if t.drain == c {
			t.drain = nil
		}
		r.holdLocked(t, c, taskID)
		r.log.Warn("connection closed before task drained; messages kept for attach",
			zap.String("conn", string(c.id)), zap.String("task_id", taskID),
			zap.Int("count", len(rescued[taskID])))
	}
	for taskID, t := range r.tasks {
		if t.drain == c {
			t.drain = nil
			r.holdLocked(t, c, taskID)
		}
	}
}
