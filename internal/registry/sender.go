// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package registry

import "go.uber.org/zap"

type frame struct {
	data []byte
	env  *envelope
}

// sendLoop drains c's queue until the connection is removed. A failed write
// returns the message to the head of its task's queue and disconnects c.
func (r *Registry) sendLoop(c *connection) {
	defer r.wg.Done()
	defer close(c.done)

	for {
		f, ok := r.next(c)
		if !ok {
			return
		}
		if err := c.conn.Send(f.data); err != nil {
			r.log.Warn("write failed; disconnecting",
				zap.String("conn", string(c.id)), zap.Error(err))
			r.fail(c, f)
			return
		}
		r.sent(c, f)
	}
}

// next blocks until c has a frame to write or is stopped. Pongs go first so
// liveness replies never wait behind pipeline events. Messages of a task held
// by another connection's pending write are skipped until the hold ends.
func (r *Registry) next(c *connection) (frame, bool) {
	for {
		r.mu.Lock()
		select {
		case <-c.stop:
			r.mu.Unlock()
			return frame{}, false
		default:
		}
		if c.pongs > 0 {
			c.pongs--
			r.mu.Unlock()
			return frame{data: pongFrame}, true
		}
		if i := r.sendableLocked(c); i >= 0 {
			e := c.queue[i]
			c.queue = append(c.queue[:i:i], c.queue[i+1:]...)
			if e.taskID != "" {
				c.inflight = &e
			}
			r.mu.Unlock()
			return frame{data: e.msg.Body, env: &e}, true
		}
		r.mu.Unlock()

		select {
		case <-c.wake:
		case <-c.stop:
			return frame{}, false
		}
	}
}

// sendableLocked returns the index of the first queued message c may write,
// or -1.
func (r *Registry) sendableLocked(c *connection) int {
	for i, e := range c.queue {
		if e.taskID == "" {
			return i
		}
		t, ok := r.tasks[e.taskID]
		if !ok || t.heldBy == nil || t.heldBy == c {
			return i
		}
	}
	return -1
}

// sent settles a successful write.
func (r *Registry) sent(c *connection, f frame) {
	if f.env == nil || f.env.taskID == "" {
		return
	}
	r.mu.Lock()
	c.inflight = nil
	r.releaseLocked(c, f.env.taskID)
	r.mu.Unlock()
}

// fail puts the unsent message back in front of everything else for its task
// and removes the connection.
func (r *Registry) fail(c *connection, f frame) {
	r.mu.Lock()
	c.inflight = nil
	if f.env != nil && f.env.taskID != "" {
		r.pushFrontLocked(c, *f.env)
	}
	removed, ok := r.disconnectLocked(c.id)
	if f.env != nil && f.env.taskID != "" {
		r.releaseLocked(c, f.env.taskID)
	}
	r.mu.Unlock()

	if ok {
		if err := removed.conn.Close(); err != nil {
			r.log.Debug("closing failed connection", zap.String("conn", string(c.id)), zap.Error(err))
		}
	}
}

// pushFrontLocked requeues e ahead of the rest of its task. Whichever
// connection now serves the task has been held back, so nothing later for
// the task has been written yet.
func (r *Registry) pushFrontLocked(c *connection, e envelope) {
	t, ok := r.tasks[e.taskID]
	if !ok {
		r.log.Warn("unsent message for forgotten task dropped", zap.String("task_id", e.taskID))
		return
	}
	switch {
	case t.conn == c || t.drain == c:
		c.queue = append([]envelope{e}, c.queue...)
	case t.conn != nil:
		t.conn.queue = append([]envelope{e}, t.conn.queue...)
		t.conn.notify()
	case t.drain != nil:
		t.drain.queue = append([]envelope{e}, t.drain.queue...)
		t.drain.notify()
	default:
		t.buffer = append([]envelope{e}, t.buffer...)
	}
}
