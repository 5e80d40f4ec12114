// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/generate"
	"github.com/pdiddy/research-desk/internal/search"
	"github.com/pdiddy/research-desk/pkg/types"
)

type reviewReply struct {
	Accept bool   `json:"accept"`
	Notes  string `json:"notes"`
}

// subtopic researches one section, then, unless the task is a summary,
// alternates review and revision until the reviewer accepts the draft or
// MaxRevisions revisions were made.
func (r *taskRun) subtopic(ctx context.Context, st types.ResearchState, sec types.SectionPlan, found *sourceSet) (string, error) {
	task := st.Task
	sources := r.subtopicSources(ctx, st, sec.Title)
	found.add(sources)

	prompt, err := r.prompts.Render(generate.PromptResearch, map[string]any{
		"Subtopic":     sec.Title,
		"Query":        task.Query,
		"Instructions": sec.Instructions,
		"Tone":         toneOf(st),
		"Sources":      r.compress(sec.Title+" "+task.Query, sources),
	})
	if err != nil {
		return "", err
	}
	draft, err := r.p.opts.Generator.Generate(ctx, r.request(st, prompt))
	if err != nil {
		return "", fmt.Errorf("researching: %w", err)
	}

	if task.ReportStyle.IsSummary() {
		return draft, nil
	}

	for i := 0; i < task.RevisionLimit(); i++ {
		prompt, err := r.prompts.Render(generate.PromptReview, map[string]any{
			"Subtopic":     sec.Title,
			"Query":        task.Query,
			"Guidelines":   task.Guidelines,
			"Instructions": sec.Instructions,
			"Draft":        draft,
		})
		if err != nil {
			return "", err
		}
		var review reviewReply
		if err := generate.GenerateJSON(ctx, r.p.opts.Generator, r.request(st, prompt), &review); err != nil {
			return "", fmt.Errorf("reviewing: %w", err)
		}
		if review.Accept || strings.TrimSpace(review.Notes) == "" {
			r.log.Debug("draft accepted", zap.String("subtopic", sec.Title), zap.Int("revisions", i))
			return draft, nil
		}

		r.emit(st, types.CategoryLogs, StageResearch, fmt.Sprintf("revising %q: %s", sec.Title, review.Notes))
		prompt, err = r.prompts.Render(generate.PromptRevise, map[string]any{
			"Subtopic": sec.Title,
			"Notes":    review.Notes,
			"Draft":    draft,
		})
		if err != nil {
			return "", err
		}
		draft, err = r.p.opts.Generator.Generate(ctx, r.request(st, prompt))
		if err != nil {
			return "", fmt.Errorf("revising: %w", err)
		}
	}
	return draft, nil
}

// subtopicSources reuses the fetched SourceURLs when the task names them;
// otherwise it runs a retrieval scoped to the section.
func (r *taskRun) subtopicSources(ctx context.Context, st types.ResearchState, title string) []types.Source {
	if len(st.Task.SourceURLs) > 0 || r.p.opts.Retriever == nil {
		return st.Sources
	}
	return r.p.opts.Retriever.Gather(ctx, search.Query{
		Text:           title + " " + st.Task.Query,
		IncludeDomains: includeDomains(st),
	})
}

func toneOf(st types.ResearchState) string {
	if st.Task.Tone != "" {
		return st.Task.Tone
	}
	return st.Agent.Tone
}
