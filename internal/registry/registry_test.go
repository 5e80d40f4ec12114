// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- fake transport ---

type fakeConn struct {
	mu      sync.Mutex
	frames  []string
	closed  int
	failOn  string        // Send returns an error for this body
	gate    chan struct{} // when set, the first Send blocks until closed
	entered chan struct{}
	gated   bool
}

func newFakeConn() *fakeConn { return &fakeConn{} }

func newGatedConn() *fakeConn {
	return &fakeConn{gate: make(chan struct{}), entered: make(chan struct{})}
}

func (f *fakeConn) Send(frame []byte) error {
	f.mu.Lock()
	if f.gate != nil && !f.gated {
		f.gated = true
		f.mu.Unlock()
		close(f.entered)
		<-f.gate
		f.mu.Lock()
	}
	defer f.mu.Unlock()
	if f.failOn != "" && string(frame) == f.failOn {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, string(frame))
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) Frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.frames...)
}

func (f *fakeConn) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func msg(body string) Message { return Message{Type: "logs", Body: []byte(body)} }

func waitFrames(t *testing.T, c *fakeConn, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.Frames()) >= n },
		time.Second, time.Millisecond, "expected %d frames", n)
	return c.Frames()
}

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(nil)
	t.Cleanup(r.Close)
	return r
}

// --- delivery ---

func TestEnqueueDeliversInOrder(t *testing.T) {
	r := newRegistry(t)
	c := newFakeConn()
	id := r.Accept(c)
	r.Bind("t1", id)

	for i := 0; i < 50; i++ {
		r.Enqueue("t1", msg(fmt.Sprintf("e%d", i)))
	}

	frames := waitFrames(t, c, 50)
	for i, f := range frames {
		assert.Equal(t, fmt.Sprintf("e%d", i), f)
	}
}

func TestEnqueueBuffersUntilBind(t *testing.T) {
	r := newRegistry(t)
	r.Enqueue("t1", msg("a"))
	r.Enqueue("t1", msg("b"))
	r.Enqueue("t1", msg("c"))
	assert.Equal(t, 3, r.Buffered("t1"))
	assert.False(t, r.Bound("t1"))

	c := newFakeConn()
	r.Bind("t1", r.Accept(c))

	assert.Equal(t, []string{"a", "b", "c"}, waitFrames(t, c, 3))
	assert.Equal(t, 0, r.Buffered("t1"))
}

func TestBindUnknownConnectionKeepsBuffering(t *testing.T) {
	r := newRegistry(t)
	r.Bind("t1", ConnID("missing"))
	r.Enqueue("t1", msg("a"))
	assert.Equal(t, 1, r.Buffered("t1"))
}

func TestRebindMovesQueuedMessagesInOrder(t *testing.T) {
	r := newRegistry(t)
	a := newGatedConn()
	aID := r.Accept(a)
	r.Bind("t1", aID)

	r.Enqueue("t1", msg("e1"))
	<-a.entered // e1 is in flight on A
	r.Enqueue("t1", msg("e2"))
	r.Enqueue("t1", msg("e3"))

	b := newFakeConn()
	bID := r.Accept(b)
	r.Bind("t1", bID)
	r.Enqueue("t1", msg("e4"))

	close(a.gate)

	assert.Equal(t, []string{"e2", "e3", "e4"}, waitFrames(t, b, 3))
	assert.Equal(t, []string{"e1"}, waitFrames(t, a, 1))
	owner, ok := r.Owner("t1")
	require.True(t, ok)
	assert.Equal(t, bID, owner)
	assert.Equal(t, 2, r.Len(), "old connection stays open")
}

func TestRebindRetriesFailedWriteAheadOfLaterMessages(t *testing.T) {
	r := newRegistry(t)
	a := newGatedConn()
	a.failOn = "e1"
	r.Bind("t1", r.Accept(a))

	r.Enqueue("t1", msg("e1"))
	<-a.entered // e1 is being written to A
	r.Enqueue("t1", msg("e2"))
	r.Enqueue("t1", msg("e3"))

	b := newFakeConn()
	r.Bind("t1", r.Accept(b))
	r.Enqueue("t1", msg("e4"))

	// B waits for A's write to resolve before sending anything for t1.
	assert.Never(t, func() bool { return len(b.Frames()) > 0 }, 50*time.Millisecond, time.Millisecond)

	close(a.gate)
	assert.Equal(t, []string{"e1", "e2", "e3", "e4"}, waitFrames(t, b, 4))
	assert.Empty(t, a.Frames())
	require.Eventually(t, func() bool { return r.Len() == 1 }, time.Second, time.Millisecond)
}

func TestReattachAfterDisconnectWaitsForPendingWrite(t *testing.T) {
	r := newRegistry(t)
	a := newGatedConn()
	a.failOn = "e1"
	aID := r.Accept(a)
	r.Bind("t1", aID)

	r.Enqueue("t1", msg("e1"))
	<-a.entered
	r.Enqueue("t1", msg("e2"))
	r.Disconnect(aID)

	b := newFakeConn()
	r.Bind("t1", r.Accept(b))
	r.Enqueue("t1", msg("e3"))
	assert.Never(t, func() bool { return len(b.Frames()) > 0 }, 50*time.Millisecond, time.Millisecond)

	close(a.gate)
	assert.Equal(t, []string{"e1", "e2", "e3"}, waitFrames(t, b, 3))
}

func TestRebindToSameConnectionIsNoop(t *testing.T) {
	r := newRegistry(t)
	c := newFakeConn()
	id := r.Accept(c)
	r.Bind("t1", id)
	r.Enqueue("t1", msg("a"))
	r.Bind("t1", id)
	r.Enqueue("t1", msg("b"))
	assert.Equal(t, []string{"a", "b"}, waitFrames(t, c, 2))
}

func TestBindSecondTaskDetachesFirst(t *testing.T) {
	r := newRegistry(t)
	c := newFakeConn()
	id := r.Accept(c)
	r.Bind("t1", id)
	r.Bind("t2", id)

	assert.False(t, r.Bound("t1"))
	task, ok := r.TaskOf(id)
	require.True(t, ok)
	assert.Equal(t, "t2", task)

	r.Enqueue("t1", msg("for-t1"))
	assert.Equal(t, 1, r.Buffered("t1"))
}

// --- liveness ---

func TestPingAnsweredWithPong(t *testing.T) {
	r := newRegistry(t)
	c := newFakeConn()
	id := r.Accept(c)
	r.Bind("t1", id)

	r.Enqueue("t1", msg("e1"))
	r.Enqueue("t1", Message{Type: TypePing, Body: []byte("ping")})
	r.Enqueue("t1", msg("e2"))

	frames := waitFrames(t, c, 3)
	assert.Contains(t, frames, "pong")
	assert.NotContains(t, frames, "ping")

	var events []string
	for _, f := range frames {
		if f != "pong" {
			events = append(events, f)
		}
	}
	assert.Equal(t, []string{"e1", "e2"}, events)
}

func TestPingForDetachedTaskIsNotBuffered(t *testing.T) {
	r := newRegistry(t)
	r.Enqueue("t1", Message{Type: TypePing})
	assert.Equal(t, 0, r.Buffered("t1"))
}

func TestPongWithoutTask(t *testing.T) {
	r := newRegistry(t)
	c := newFakeConn()
	r.Pong(r.Accept(c))
	assert.Equal(t, []string{"pong"}, waitFrames(t, c, 1))
}

// --- teardown ---

func TestDisconnectIsIdempotent(t *testing.T) {
	r := newRegistry(t)
	c := newFakeConn()
	id := r.Accept(c)

	r.Disconnect(id)
	r.Disconnect(id)

	assert.Equal(t, 1, c.Closed())
	assert.Equal(t, 0, r.Len())
}

func TestDisconnectReturnsPendingToTaskBuffer(t *testing.T) {
	r := newRegistry(t)
	a := newGatedConn()
	aID := r.Accept(a)
	r.Bind("t1", aID)

	r.Enqueue("t1", msg("e1"))
	<-a.entered
	r.Enqueue("t1", msg("e2"))
	r.Enqueue("t1", msg("e3"))

	r.Disconnect(aID)
	close(a.gate)

	assert.Equal(t, 2, r.Buffered("t1"))
	assert.False(t, r.Bound("t1"))

	b := newFakeConn()
	r.Bind("t1", r.Accept(b))
	assert.Equal(t, []string{"e2", "e3"}, waitFrames(t, b, 2))
}

func TestWriteFailureDisconnectsAndRescuesMessage(t *testing.T) {
	r := newRegistry(t)
	a := newFakeConn()
	a.failOn = "e2"
	aID := r.Accept(a)
	r.Bind("t1", aID)

	r.Enqueue("t1", msg("e1"))
	r.Enqueue("t1", msg("e2"))
	r.Enqueue("t1", msg("e3"))

	require.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"e1"}, a.Frames())
	assert.Equal(t, 1, a.Closed())
	assert.Equal(t, 2, r.Buffered("t1"))

	b := newFakeConn()
	r.Bind("t1", r.Accept(b))
	assert.Equal(t, []string{"e2", "e3"}, waitFrames(t, b, 2))
}

func TestUnbindTaskKeepsConnectionOpen(t *testing.T) {
	r := newRegistry(t)
	c := newFakeConn()
	id := r.Accept(c)
	r.Bind("t1", id)

	r.Enqueue("t1", msg("final"))
	r.UnbindTask("t1")
	r.Enqueue("t1", msg("late"))

	assert.Equal(t, []string{"final"}, waitFrames(t, c, 1))
	assert.False(t, r.Bound("t1"))
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, 0, r.Buffered("t1"))

	r.Bind("t2", id)
	r.Enqueue("t2", msg("next"))
	assert.Equal(t, []string{"final", "next"}, waitFrames(t, c, 2))
}

func TestUnbindForgetsDrainedTask(t *testing.T) {
	r := newRegistry(t)
	c := newFakeConn()
	id := r.Accept(c)
	r.Bind("t1", id)

	r.Enqueue("t1", msg("report"))
	r.UnbindTask("t1")
	assert.Equal(t, []string{"report"}, waitFrames(t, c, 1))
	require.Eventually(t, func() bool { return r.Tasks() == 0 }, time.Second, time.Millisecond)

	r.Enqueue("t1", msg("late"))
	r.ExpectReply("t1")
	assert.Equal(t, 0, r.Tasks(), "late messages do not recreate the task")
	assert.Equal(t, 0, r.Buffered("t1"))

	r.Bind("t1", id)
	r.Enqueue("t1", msg("resumed"))
	assert.Equal(t, []string{"report", "resumed"}, waitFrames(t, c, 2))
}

func TestRetiredTasksAreBounded(t *testing.T) {
	r := newRegistry(t)
	id := r.Accept(newFakeConn())
	for i := 0; i < maxRetired+10; i++ {
		taskID := fmt.Sprintf("t%d", i)
		r.Bind(taskID, id)
		r.UnbindTask(taskID)
	}

	assert.Equal(t, 0, r.Tasks())
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.retired, maxRetired)
	assert.Len(t, r.order, maxRetired)
	_, kept := r.retired[fmt.Sprintf("t%d", maxRetired+9)]
	assert.True(t, kept)
	_, kept = r.retired["t0"]
	assert.False(t, kept)
}

func TestDisconnectBeforeDrainKeepsTailForAttach(t *testing.T) {
	r := newRegistry(t)
	a := newGatedConn()
	aID := r.Accept(a)
	r.Bind("t1", aID)

	r.Enqueue("t1", msg("e1"))
	<-a.entered
	r.Enqueue("t1", msg("report"))
	r.UnbindTask("t1")
	r.Disconnect(aID)

	assert.Equal(t, 1, r.Buffered("t1"))
	assert.Equal(t, 1, r.Tasks())

	b := newFakeConn()
	r.Bind("t1", r.Accept(b))
	close(a.gate)

	assert.Equal(t, []string{"report"}, waitFrames(t, b, 1))
	assert.Equal(t, []string{"e1"}, waitFrames(t, a, 1))
	require.Eventually(t, func() bool { return r.Tasks() == 0 }, time.Second, time.Millisecond)
	assert.False(t, r.Bound("t1"), "a finished task is not bound again")
}

func TestUnbindUnknownTask(t *testing.T) {
	r := newRegistry(t)
	r.UnbindTask("nope")
	assert.False(t, r.Bound("nope"))
}

func TestDirectMessage(t *testing.T) {
	r := newRegistry(t)
	c := newFakeConn()
	id := r.Accept(c)
	r.Direct(id, msg("hello"))
	r.Direct(ConnID("missing"), msg("lost"))
	assert.Equal(t, []string{"hello"}, waitFrames(t, c, 1))
}

// --- feedback mailbox ---

func TestReplyAcceptedOnlyFromOwnerWhileAwaiting(t *testing.T) {
	r := newRegistry(t)
	owner := r.Accept(newFakeConn())
	other := r.Accept(newFakeConn())
	r.Bind("t1", owner)

	assert.False(t, r.Reply("t1", owner, []byte("early")), "no waiter yet")

	got := make(chan []byte, 1)
	go func() {
		p, err := r.AwaitReply(context.Background(), "t1")
		if err == nil {
			got <- p
		}
	}()

	require.Eventually(t, func() bool {
		return r.Reply("t1", owner, []byte(`["a"]`))
	}, time.Second, time.Millisecond)
	assert.False(t, r.Reply("t1", other, []byte("x")))
	assert.False(t, r.Reply("t1", owner, []byte("second")), "only one reply per wait")

	select {
	case p := <-got:
		assert.Equal(t, `["a"]`, string(p))
	case <-time.After(time.Second):
		t.Fatal("reply not delivered")
	}
}

func TestExpectReplyAcceptsReplyBeforeWait(t *testing.T) {
	r := newRegistry(t)
	owner := r.Accept(newFakeConn())
	r.Bind("t1", owner)

	r.ExpectReply("t1")
	require.True(t, r.Reply("t1", owner, []byte("early")))
	assert.False(t, r.Reply("t1", owner, []byte("again")))

	p, err := r.AwaitReply(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "early", string(p))
	assert.False(t, r.Reply("t1", owner, []byte("late")), "mailbox closed after the reply")
}

func TestAwaitReplyHonoursContext(t *testing.T) {
	r := newRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.AwaitReply(ctx, "t1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentEnqueueAndRebind(t *testing.T) {
	r := newRegistry(t)
	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	ids := make([]ConnID, len(conns))
	for i, c := range conns {
		ids[i] = r.Accept(c)
	}
	r.Bind("t1", ids[0])

	const n = 300
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			r.Enqueue("t1", msg(fmt.Sprintf("%04d", i)))
		}
	}()
	for i := 1; i < 20; i++ {
		r.Bind("t1", ids[i%len(ids)])
	}
	<-done

	require.Eventually(t, func() bool {
		total := 0
		for _, c := range conns {
			total += len(c.Frames())
		}
		return total == n
	}, time.Second, time.Millisecond)

	// Each connection sees a strictly increasing subsequence, and nothing is
	// delivered twice.
	seen := make(map[string]bool)
	for _, c := range conns {
		prev := ""
		for _, f := range c.Frames() {
			assert.False(t, seen[f], "duplicate %s", f)
			seen[f] = true
			assert.Greater(t, f, prev)
			prev = f
		}
	}
}
