// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/compress"
	"github.com/pdiddy/research-desk/internal/export"
	"github.com/pdiddy/research-desk/internal/generate"
	"github.com/pdiddy/research-desk/internal/logging"
	"github.com/pdiddy/research-desk/internal/progress"
	"github.com/pdiddy/research-desk/internal/search"
	"github.com/pdiddy/research-desk/internal/store"
	"github.com/pdiddy/research-desk/pkg/types"
)

// AgentSource looks up stored agent specialisations. *store.Store implements
// it.
type AgentSource interface {
	Agent(ctx context.Context, id string) (types.AgentProfile, error)
}

// Publisher writes the final report in the requested formats.
// *export.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, formats []string, report, dir, name string) []export.Result
}

// Options holds the collaborators shared by every task.
type Options struct {
	Generator generate.Generator
	Retriever search.Retriever
	// HTTPClient fetches a task's SourceURLs.
	HTTPClient *http.Client
	// Agents is optional; without it AgentID is ignored.
	Agents    AgentSource
	Gate      *Gate
	Publisher Publisher
	Emitter   progress.Emitter
	// OutputDir receives published files, one subdirectory per task.
	OutputDir string
	// MaxConcurrency caps concurrent subtopic jobs per task (0 = unbounded).
	MaxConcurrency int
	// Compression bounds the source text placed in each prompt.
	Compression compress.Options
	Log            *zap.Logger
}

// Pipeline runs research tasks.
type Pipeline struct {
	opts Options
	log  *zap.Logger
}

// New returns a Pipeline using opts.
func New(opts Options) *Pipeline {
	if opts.Emitter == nil {
		opts.Emitter = progress.Nop{}
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "outputs"
	}
	return &Pipeline{opts: opts, log: opts.Log.Named("pipeline")}
}

// Run executes one task to completion and returns its final state. A stage
// failure is returned as a *StageError after the error event was emitted.
func (p *Pipeline) Run(ctx context.Context, taskID string, cfg types.TaskConfig) (types.ResearchState, error) {
	st := types.ResearchState{
		TaskID: taskID,
		Task:   cfg.WithDefaults(),
		Drafts: types.NewDrafts(nil),
	}
	if err := st.Task.Validate(); err != nil {
		p.opts.Emitter.Emit(types.NewEvent(taskID, types.CategoryError, "", err.Error()))
		return st, err
	}
	st.Agent = p.resolveAgent(ctx, st)

	run := &taskRun{
		p:       p,
		log:     logging.Task(p.log, taskID),
		prompts: p.prompts(st),
	}
	engine := &Engine{Emitter: p.opts.Emitter, Log: run.log}
	return engine.Run(ctx, st, run.stages(st.Task))
}

// resolveAgent loads the task's agent. A missing or unreadable record is not
// fatal: the task continues with default settings and a logs event says so.
func (p *Pipeline) resolveAgent(ctx context.Context, st types.ResearchState) types.AgentProfile {
	id := st.Task.AgentID
	if id == "" || p.opts.Agents == nil {
		return types.AgentProfile{}
	}
	agent, err := p.opts.Agents.Agent(ctx, id)
	if err == nil {
		return agent
	}
	msg := fmt.Sprintf("agent %q could not be loaded, using defaults", id)
	if errors.Is(err, store.ErrNotFound) {
		msg = fmt.Sprintf("agent %q not found, using defaults", id)
	}
	p.log.Warn("agent lookup failed", zap.String("task_id", st.TaskID), zap.String("agent", id), zap.Error(err))
	p.opts.Emitter.Emit(types.NewEvent(st.TaskID, types.CategoryLogs, "", msg))
	return types.AgentProfile{}
}

func (p *Pipeline) prompts(st types.ResearchState) *generate.Prompts {
	if len(st.Agent.Prompts) == 0 {
		return generate.DefaultPrompts()
	}
	prompts, err := generate.NewPrompts(st.Agent.Prompts)
	if err != nil {
		p.log.Warn("ignoring agent prompts", zap.String("agent", st.Agent.ID), zap.Error(err))
		return generate.DefaultPrompts()
	}
	return prompts
}

// taskRun carries per-task collaborators for the stage functions.
type taskRun struct {
	p       *Pipeline
	log     *zap.Logger
	prompts *generate.Prompts
}

// stages builds the stage list for a task. The summary style never asks for
// human feedback.
func (r *taskRun) stages(task types.TaskConfig) []Stage {
	stages := []Stage{
		{Name: StagePlan, Run: r.plan},
		{Name: StageResearch, Run: r.research},
	}
	if task.IncludeHumanFeedback && !task.ReportStyle.IsSummary() {
		stages = append(stages, Stage{Name: StageFeedback, Run: r.feedback})
	}
	return append(stages,
		Stage{Name: StageCompose, Run: r.compose},
		Stage{Name: StagePublish, Run: r.publish},
	)
}

func (r *taskRun) emit(st types.ResearchState, cat types.Category, stage string, payload any) {
	r.p.opts.Emitter.Emit(types.NewEvent(st.TaskID, cat, stage, payload))
}
