// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline runs one research task through its fixed sequence of
// stages: plan, parallel_research, the optional human_feedback gate, compose
// and publish.
package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/progress"
	"github.com/pdiddy/research-desk/pkg/types"
)

// Stage names as they appear in progress events.
const (
	StagePlan     = "plan"
	StageResearch = "parallel_research"
	StageFeedback = "human_feedback"
	StageCompose  = "compose"
	StagePublish  = "publish"
)

// Update is a partial state change returned by a stage. Only the engine
// applies it.
type Update func(st *types.ResearchState)

// Stage is one named step. Run must not mutate st; it reports its changes as
// an Update.
type Stage struct {
	Name string
	Run  func(ctx context.Context, st types.ResearchState) (Update, error)
}

// StageError reports the stage that aborted a task.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %s", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// Engine executes stages in order for one research state.
type Engine struct {
	Emitter progress.Emitter
	Log     *zap.Logger
}

// Run executes stages in order. Every stage produces one status event on
// entry and one on exit; a failing stage produces a single error event in
// place of its exit event and the remaining stages are skipped.
func (e *Engine) Run(ctx context.Context, st types.ResearchState, stages []Stage) (types.ResearchState, error) {
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}
	emit := e.Emitter
	if emit == nil {
		emit = progress.Nop{}
	}

	for _, s := range stages {
		emit.Emit(types.NewEvent(st.TaskID, types.CategoryStatus, s.Name, "started"))
		log.Debug("stage started", zap.String("task_id", st.TaskID), zap.String("stage", s.Name))

		update, err := s.Run(ctx, st)
		if err != nil {
			log.Error("stage failed", zap.String("task_id", st.TaskID), zap.String("stage", s.Name), zap.Error(err))
			emit.Emit(types.NewEvent(st.TaskID, types.CategoryError, s.Name, err.Error()))
			return st, &StageError{Stage: s.Name, Err: err}
		}
		if update != nil {
			update(&st)
		}

		emit.Emit(types.NewEvent(st.TaskID, types.CategoryStatus, s.Name, "completed"))
		log.Debug("stage completed", zap.String("task_id", st.TaskID), zap.String("stage", s.Name))
	}
	return st, nil
}
