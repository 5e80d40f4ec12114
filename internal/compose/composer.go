// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/generate"
	"github.com/pdiddy/research-desk/pkg/types"
)

// Composer asks the generator for the layout fields of a report.
type Composer struct {
	gen     generate.Generator
	prompts *generate.Prompts
	log     *zap.Logger
}

// New returns a Composer. A nil prompts uses the built-in templates.
func New(gen generate.Generator, prompts *generate.Prompts, log *zap.Logger) *Composer {
	if prompts == nil {
		prompts = generate.DefaultPrompts()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{gen: gen, prompts: prompts, log: log.Named("compose")}
}

type layoutDraft struct {
	Title   string
	Content string
}

type layoutReply struct {
	Introduction    string `json:"introduction"`
	TableOfContents string `json:"table_of_contents"`
	Conclusion      string `json:"conclusion"`
	Overview        string `json:"overview"`
}

// Layout composes the report layout for st. The layout fields are required;
// header revision and the executive summary are best effort and fall back to
// the defaults with a warning.
func (c *Composer) Layout(ctx context.Context, st types.ResearchState) (types.Layout, error) {
	task := st.Task
	summary := task.ReportStyle.IsSummary()

	drafts := make([]layoutDraft, 0, st.Drafts.Len())
	for _, d := range st.Drafts.Entries() {
		ld := layoutDraft{Title: d.Title}
		if d.Content != nil {
			ld.Content = *d.Content
		}
		drafts = append(drafts, ld)
	}

	guidelines := guidelinesFor(st)
	prompt, err := c.prompts.Render(generate.PromptLayout, map[string]any{
		"Style":      string(task.ReportStyle),
		"Title":      st.Title,
		"Query":      task.Query,
		"Tone":       toneFor(st),
		"Guidelines": guidelines,
		"Drafts":     drafts,
		"Summary":    summary,
	})
	if err != nil {
		return types.Layout{}, err
	}

	var reply layoutReply
	if err := generate.GenerateJSON(ctx, c.gen, c.request(st, prompt), &reply); err != nil {
		return types.Layout{}, fmt.Errorf("composing layout: %w", err)
	}

	layout := types.Layout{
		Headers:    DefaultHeaders(task.ReportStyle, st.Title),
		References: References(st.Drafts, st.Sources),
	}
	if summary {
		layout.Overview = reply.Overview
	} else {
		layout.Introduction = reply.Introduction
		layout.TableOfContents = reply.TableOfContents
		layout.Conclusion = reply.Conclusion
	}

	if task.FollowGuidelines && len(task.Guidelines) > 0 {
		revised, err := c.ReviseHeaders(ctx, st, layout.Headers)
		if err != nil {
			c.log.Warn("keeping default headers", zap.String("task_id", st.TaskID), zap.Error(err))
		} else {
			layout.Headers = revised
		}
	}

	if !summary {
		draft := st
		draft.Layout = layout
		es, err := c.ExecutiveSummary(ctx, draft)
		if err != nil {
			c.log.Warn("skipping executive summary", zap.String("task_id", st.TaskID), zap.Error(err))
		} else {
			layout.ExecutiveSummary = es
		}
	}
	return layout, nil
}

// ReviseHeaders rewrites headers to follow the task guidelines.
func (c *Composer) ReviseHeaders(ctx context.Context, st types.ResearchState, headers types.Headers) (types.Headers, error) {
	raw, err := json.Marshal(headers)
	if err != nil {
		return headers, fmt.Errorf("encoding headers: %w", err)
	}
	prompt, err := c.prompts.Render(generate.PromptHeaders, map[string]any{
		"Guidelines": st.Task.Guidelines,
		"Headers":    string(raw),
	})
	if err != nil {
		return headers, err
	}
	var revised types.Headers
	if err := generate.GenerateJSON(ctx, c.gen, c.request(st, prompt), &revised); err != nil {
		return headers, fmt.Errorf("revising headers: %w", err)
	}
	return MergeHeaders(headers, revised), nil
}

// ExecutiveSummary summarises the rendered report.
func (c *Composer) ExecutiveSummary(ctx context.Context, st types.ResearchState) (string, error) {
	prompt, err := c.prompts.Render(generate.PromptExecutiveSummary, map[string]any{
		"Report": Render(st),
	})
	if err != nil {
		return "", err
	}
	out, err := c.gen.Generate(ctx, c.request(st, prompt))
	if err != nil {
		return "", fmt.Errorf("writing executive summary: %w", err)
	}
	return out, nil
}

func (c *Composer) request(st types.ResearchState, prompt string) generate.Request {
	return generate.Request{
		System: st.Agent.SystemInstructions,
		Prompt: prompt,
		Model:  ModelFor(st),
	}
}

// ModelFor returns the task's model, falling back to the agent's.
func ModelFor(st types.ResearchState) string {
	if st.Task.Model != "" {
		return st.Task.Model
	}
	return st.Agent.Model
}

func toneFor(st types.ResearchState) string {
	if st.Task.Tone != "" {
		return st.Task.Tone
	}
	return st.Agent.Tone
}

// guidelinesFor appends free-text human feedback to the task guidelines.
func guidelinesFor(st types.ResearchState) []string {
	g := append([]string(nil), st.Task.Guidelines...)
	if st.HumanFeedback != "" {
		g = append(g, "Reviewer feedback: "+st.HumanFeedback)
	}
	return g
}

// Today formats the report date.
func Today() string {
	return time.Now().Format("02/01/2006")
}
