// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/compose"
	"github.com/pdiddy/research-desk/internal/compress"
	"github.com/pdiddy/research-desk/internal/export"
	"github.com/pdiddy/research-desk/internal/generate"
	"github.com/pdiddy/research-desk/internal/search"
	"github.com/pdiddy/research-desk/pkg/types"
)

type outlineReply struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Sections []any  `json:"sections"`
}

// plan gathers sources for the query, summarises them and asks for an
// outline of at most MaxSections subtopics.
func (r *taskRun) plan(ctx context.Context, st types.ResearchState) (Update, error) {
	task := st.Task
	sources := r.initialSources(ctx, st)
	r.emit(st, types.CategoryLogs, StagePlan, fmt.Sprintf("gathered %d sources for initial research", len(sources)))

	prompt, err := r.prompts.Render(generate.PromptInitialResearch, map[string]any{
		"Query":   task.Query,
		"Sources": r.compress(task.Query, sources),
	})
	if err != nil {
		return nil, err
	}
	initial, err := r.p.opts.Generator.Generate(ctx, r.request(st, prompt))
	if err != nil {
		return nil, fmt.Errorf("initial research: %w", err)
	}

	date := compose.Today()
	prompt, err = r.prompts.Render(generate.PromptOutline, map[string]any{
		"Style":           string(task.ReportStyle),
		"Date":            date,
		"Query":           task.Query,
		"InitialResearch": initial,
		"Guidelines":      task.Guidelines,
		"MaxSections":     task.SectionLimit(),
	})
	if err != nil {
		return nil, err
	}
	var outline outlineReply
	if err := generate.GenerateJSON(ctx, r.p.opts.Generator, r.request(st, prompt), &outline); err != nil {
		return nil, fmt.Errorf("planning outline: %w", err)
	}

	sections := sectionsFromJSON(outline.Sections)
	if len(sections) == 0 {
		return nil, errors.New("planner returned no sections")
	}
	if limit := task.SectionLimit(); len(sections) > limit {
		sections = sections[:limit]
	}
	title := strings.TrimSpace(outline.Title)
	if title == "" {
		title = task.Query
	}
	if outline.Date != "" {
		date = outline.Date
	}
	r.emit(st, types.CategoryLogs, StagePlan, fmt.Sprintf("planned %d sections: %s",
		len(sections), strings.Join(types.Titles(sections), ", ")))

	return func(s *types.ResearchState) {
		s.InitialResearch = initial
		s.Title = title
		s.Date = date
		s.Sections = sections
		s.Sources = sources
		s.Drafts = types.NewDrafts(types.Titles(sections))
	}, nil
}

// initialSources fetches the task's SourceURLs when given, otherwise queries
// the retriever. Retrieval problems never fail the stage.
func (r *taskRun) initialSources(ctx context.Context, st types.ResearchState) []types.Source {
	task := st.Task
	if len(task.SourceURLs) > 0 {
		b := &search.URLBackend{URLs: task.SourceURLs, Client: r.p.opts.HTTPClient}
		sources, err := b.Search(ctx, search.Query{Text: task.Query})
		if err != nil {
			r.log.Warn("fetching source urls", zap.Error(err))
			r.emit(st, types.CategoryLogs, StagePlan, "none of the source urls could be fetched")
		}
		return sources
	}
	if r.p.opts.Retriever == nil {
		return nil
	}
	return r.p.opts.Retriever.Gather(ctx, search.Query{Text: task.Query, IncludeDomains: includeDomains(st)})
}

// research fans one job out per planned section.
func (r *taskRun) research(ctx context.Context, st types.ResearchState) (Update, error) {
	found := newSourceSet(st.Sources)
	drafts := r.fanOut(ctx, st, st.Sections, found)
	r.emit(st, types.CategoryLogs, StageResearch, fmt.Sprintf("researched %d of %d sections",
		completed(drafts), drafts.Len()))

	sources := found.list()
	return func(s *types.ResearchState) {
		s.Drafts = drafts
		s.Sources = sources
	}, nil
}

// feedback asks for plan changes and researches any section the revised plan
// adds. Drafts follow the revised order; dropped sections are removed.
func (r *taskRun) feedback(ctx context.Context, st types.ResearchState) (Update, error) {
	gate := r.p.opts.Gate
	if gate == nil {
		return nil, nil
	}
	rev, err := gate.Ask(ctx, st)
	if err != nil {
		return nil, err
	}
	if !rev.Changed() {
		if rev.Note != "" {
			r.emit(st, types.CategoryLogs, StageFeedback, "feedback noted for composition")
		} else {
			r.emit(st, types.CategoryLogs, StageFeedback, "plan accepted without changes")
		}
		note := rev.Note
		return func(s *types.ResearchState) { s.HumanFeedback = note }, nil
	}

	titles := types.Titles(rev.Sections)
	drafts := st.Drafts.Reorder(titles)
	found := newSourceSet(st.Sources)

	var added []types.SectionPlan
	missing := make(map[string]bool)
	for _, t := range st.Drafts.Missing(titles) {
		missing[t] = true
	}
	for _, s := range rev.Sections {
		if missing[s.Title] {
			added = append(added, s)
		}
	}
	if len(added) > 0 {
		r.emit(st, types.CategoryLogs, StageFeedback, fmt.Sprintf("researching %d new sections", len(added)))
		fresh := r.fanOut(ctx, st, added, found)
		for _, d := range fresh.Entries() {
			drafts.Set(d.Title, d.Content)
		}
	}

	sections := rev.Sections
	note := rev.Note
	sources := found.list()
	return func(s *types.ResearchState) {
		s.Sections = sections
		s.Drafts = drafts
		s.Sources = sources
		s.HumanFeedback = note
	}, nil
}

func (r *taskRun) compose(ctx context.Context, st types.ResearchState) (Update, error) {
	c := compose.New(r.p.opts.Generator, r.prompts, r.log)
	layout, err := c.Layout(ctx, st)
	if err != nil {
		return nil, err
	}
	if st.Task.Verbose {
		r.emit(st, types.CategoryLogs, StageCompose, layout)
	}

	st.Layout = layout
	report := compose.Render(st)
	return func(s *types.ResearchState) {
		s.Layout = layout
		s.Report = report
	}, nil
}

// publish runs the requested exporters and delivers the report. Exporter
// failures are reported per format and never fail the task.
func (r *taskRun) publish(ctx context.Context, st types.ResearchState) (Update, error) {
	if strings.TrimSpace(st.Report) == "" {
		return nil, errors.New("nothing to publish")
	}

	var published []string
	formats := st.Task.PublishFormats.Requested()
	if len(formats) > 0 && r.p.opts.Publisher != nil {
		dir := filepath.Join(r.p.opts.OutputDir, st.TaskID)
		name := export.FileName(st.TaskID, st.Title)
		for _, res := range r.p.opts.Publisher.Publish(ctx, formats, st.Report, dir, name) {
			if res.Err != nil {
				r.emit(st, types.CategoryLogs, StagePublish, fmt.Sprintf("%s export failed: %v", res.Format, res.Err))
				continue
			}
			published = append(published, res.Path)
			r.emit(st, types.CategoryLogs, StagePublish, fmt.Sprintf("%s written to %s", res.Format, res.Path))
		}
	}

	r.emit(st, types.CategoryReport, StagePublish, st.Report)
	return func(s *types.ResearchState) { s.Published = published }, nil
}

// fanOut researches sections concurrently. Failed sections are reported as
// logs events and left without content.
func (r *taskRun) fanOut(ctx context.Context, st types.ResearchState, sections []types.SectionPlan, found *sourceSet) types.Drafts {
	instructions := make(map[string]string, len(sections))
	for _, s := range sections {
		instructions[s.Title] = s.Instructions
	}
	job := func(ctx context.Context, title string) (string, error) {
		return r.subtopic(ctx, st, types.SectionPlan{Title: title, Instructions: instructions[title]}, found)
	}
	onFail := func(title string, err error) {
		r.log.Warn("subtopic failed", zap.String("subtopic", title), zap.Error(err))
		r.emit(st, types.CategoryLogs, StageResearch, fmt.Sprintf("research for %q failed: %v", title, err))
	}
	return FanOut(ctx, types.Titles(sections), r.p.opts.MaxConcurrency, job, onFail)
}

func (r *taskRun) request(st types.ResearchState, prompt string) generate.Request {
	return generate.Request{
		System: st.Agent.SystemInstructions,
		Prompt: prompt,
		Model:  compose.ModelFor(st),
	}
}

func includeDomains(st types.ResearchState) []string {
	if len(st.Task.IncludeDomains) > 0 {
		return st.Task.IncludeDomains
	}
	return st.Agent.IncludeDomains
}

func completed(d types.Drafts) int {
	n := 0
	for _, e := range d.Entries() {
		if e.Content != nil {
			n++
		}
	}
	return n
}

// compress keeps the passages of sources most relevant to query so the
// prompt stays within the context budget.
func (r *taskRun) compress(query string, sources []types.Source) []types.Source {
	return compress.Sources(query, sources, r.p.opts.Compression)
}

// sourceSet accumulates sources from concurrent jobs, keeping the first
// occurrence of each URL.
type sourceSet struct {
	mu    sync.Mutex
	seen  map[string]bool
	items []types.Source
}

func newSourceSet(initial []types.Source) *sourceSet {
	s := &sourceSet{seen: make(map[string]bool)}
	s.add(initial)
	return s
}

func (s *sourceSet) add(sources []types.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range sources {
		if src.URL == "" || s.seen[src.URL] {
			continue
		}
		s.seen[src.URL] = true
		s.items = append(s.items, src)
	}
}

func (s *sourceSet) list() []types.Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Source(nil), s.items...)
}
