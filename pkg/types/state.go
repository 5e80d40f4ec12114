// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "encoding/json"

// AgentProfile is a stored agent specialisation applied to a task.
type AgentProfile struct {
	ID                 string            `json:"id" yaml:"id"`
	BaseID             string            `json:"base_id,omitempty" yaml:"base_id,omitempty"`
	Name               string            `json:"name" yaml:"name"`
	Model              string            `json:"model,omitempty" yaml:"model,omitempty"`
	Tone               string            `json:"tone,omitempty" yaml:"tone,omitempty"`
	SystemInstructions string            `json:"system_instructions,omitempty" yaml:"system_instructions,omitempty"`
	IncludeDomains     []string          `json:"include_domains,omitempty" yaml:"include_domains,omitempty"`
	Prompts            map[string]string `json:"prompts,omitempty" yaml:"prompts,omitempty"`
}

// Draft is one subtopic result. A nil Content marks a subtopic whose job failed.
type Draft struct {
	Title   string  `json:"title"`
	Content *string `json:"content"`
}

// Drafts maps subtopic titles to content while preserving the order in which
// titles were first declared.
type Drafts struct {
	order   []string
	content map[string]*string
}

// NewDrafts declares the titles in order, each with no content yet.
func NewDrafts(titles []string) Drafts {
	d := Drafts{content: make(map[string]*string, len(titles))}
	for _, t := range titles {
		d.declare(t)
	}
	return d
}

func (d *Drafts) declare(title string) {
	if d.content == nil {
		d.content = make(map[string]*string)
	}
	if _, ok := d.content[title]; ok {
		return
	}
	d.order = append(d.order, title)
	d.content[title] = nil
}

// Set stores content for title, declaring the title at the end if it is new.
// A second Set for the same title replaces the first.
func (d *Drafts) Set(title string, content *string) {
	d.declare(title)
	d.content[title] = content
}

// Get returns the content for title and whether the title is declared.
func (d Drafts) Get(title string) (*string, bool) {
	c, ok := d.content[title]
	return c, ok
}

// Len returns the number of declared titles.
func (d Drafts) Len() int { return len(d.order) }

// Titles returns the declared titles in order.
func (d Drafts) Titles() []string {
	return append([]string(nil), d.order...)
}

// Entries returns the drafts in declaration order.
func (d Drafts) Entries() []Draft {
	out := make([]Draft, len(d.order))
	for i, t := range d.order {
		out[i] = Draft{Title: t, Content: d.content[t]}
	}
	return out
}

// Missing returns the titles in order that are not declared in d.
func (d Drafts) Missing(titles []string) []string {
	var out []string
	for _, t := range titles {
		if _, ok := d.content[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// Reorder returns drafts restricted to titles, in that order. Titles unknown
// to d are declared with no content.
func (d Drafts) Reorder(titles []string) Drafts {
	out := NewDrafts(nil)
	for _, t := range titles {
		out.Set(t, d.content[t])
	}
	return out
}

// MarshalJSON encodes the drafts as an ordered list.
func (d Drafts) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Entries())
}

// Headers are the section headings used by the final layout.
type Headers struct {
	Title           string `json:"title"`
	Date            string `json:"date,omitempty"`
	Introduction    string `json:"introduction,omitempty"`
	TableOfContents string `json:"table_of_contents,omitempty"`
	Conclusion      string `json:"conclusion,omitempty"`
	Overview        string `json:"overview,omitempty"`
	References      string `json:"references"`
}

// Layout holds the composed fields of the final document.
type Layout struct {
	Headers          Headers  `json:"headers"`
	Introduction     string   `json:"introduction,omitempty"`
	TableOfContents  string   `json:"table_of_contents,omitempty"`
	Conclusion       string   `json:"conclusion,omitempty"`
	Overview         string   `json:"overview,omitempty"`
	ExecutiveSummary string   `json:"executive_summary,omitempty"`
	References       []string `json:"references"`
}

// ResearchState is the record threaded through the pipeline stages of one
// task. Stages read it and return updates; only the engine mutates it.
type ResearchState struct {
	TaskID          string        `json:"task_id"`
	Task            TaskConfig    `json:"task"`
	Agent           AgentProfile  `json:"agent"`
	InitialResearch string        `json:"initial_research,omitempty"`
	Title           string        `json:"title,omitempty"`
	Date            string        `json:"date,omitempty"`
	Sections        []SectionPlan `json:"sections,omitempty"`
	Drafts          Drafts        `json:"drafts"`
	Sources         []Source      `json:"sources,omitempty"`
	HumanFeedback   string        `json:"human_feedback,omitempty"`
	Layout          Layout        `json:"layout"`
	Report          string        `json:"report,omitempty"`
	Published       []string      `json:"published,omitempty"`
}
