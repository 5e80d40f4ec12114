// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package progress routes pipeline progress events to their audience: the
// connection bound to the task, or the local console when a task runs detached.
package progress

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/registry"
	"github.com/pdiddy/research-desk/pkg/types"
)

// Emitter receives progress events. Implementations must be safe for
// concurrent use; the fan-out executor emits from many goroutines.
type Emitter interface {
	Emit(ev types.ProgressEvent)
}

// Enqueuer is the slice of the connection registry the router needs.
type Enqueuer interface {
	Enqueue(taskID string, msg registry.Message)
}

// Router encodes events as JSON frames and hands them to the registry, which
// delivers them to the task's current connection or buffers them.
type Router struct {
	reg Enqueuer
	log *zap.Logger
}

// NewRouter returns a Router over reg.
func NewRouter(reg Enqueuer, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{reg: reg, log: log.Named("progress")}
}

// Emit implements Emitter.
func (r *Router) Emit(ev types.ProgressEvent) {
	body, err := Encode(ev)
	if err != nil {
		r.log.Warn("encoding event", zap.String("task_id", ev.TaskID), zap.Error(err))
		return
	}
	r.reg.Enqueue(ev.TaskID, registry.Message{Type: string(ev.Category), Body: body})
}

// Encode renders ev as the wire frame {type, stage, output, task_id,
// timestamp}. A payload that cannot be marshalled is sent as its string form.
func Encode(ev types.ProgressEvent) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err == nil {
		return body, nil
	}
	ev.Payload = fmt.Sprint(ev.Payload)
	return json.Marshal(ev)
}

// Multi forwards every event to each emitter in order.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(ev types.ProgressEvent) {
	for _, e := range m {
		e.Emit(ev)
	}
}

// Nop discards events.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(types.ProgressEvent) {}

// Func adapts a function to Emitter.
type Func func(ev types.ProgressEvent)

// Emit implements Emitter.
func (f Func) Emit(ev types.ProgressEvent) { f(ev) }
