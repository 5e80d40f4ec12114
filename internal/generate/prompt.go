// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package generate

import (
	"bytes"
	"fmt"
	"text/template"
)

// Prompt template names. Stored agents may override any of them.
const (
	PromptInitialResearch  = "initial_research"
	PromptOutline          = "outline"
	PromptResearch         = "research"
	PromptReview           = "review"
	PromptRevise           = "revise"
	PromptLayout           = "layout"
	PromptHeaders          = "headers"
	PromptExecutiveSummary = "executive_summary"
)

var defaultPrompts = map[string]string{
	PromptInitialResearch: `Summarise what the following sources say about the research question.

Question: {{.Query}}
{{range .Sources}}
Source: {{.URL}}
{{.RawText}}
{{end}}
Write a factual summary of no more than 400 words.`,

	PromptOutline: `You are planning a {{.Style}} on the question below. Today is {{.Date}}.

Question: {{.Query}}

Background research:
{{.InitialResearch}}
{{if .Guidelines}}
Follow these guidelines:
{{range .Guidelines}}- {{.}}
{{end}}{{end}}
Propose a title and at most {{.MaxSections}} section titles covering distinct subtopics.
Do not include introduction, conclusion or references sections.
Reply with JSON: {"title": "...", "date": "{{.Date}}", "sections": ["...", "..."]}`,

	PromptResearch: `Research the subtopic "{{.Subtopic}}" as part of a report on "{{.Query}}".
{{if .Instructions}}
Reviewer instructions: {{.Instructions}}
{{end}}{{if .Tone}}Write in a {{.Tone}} tone.
{{end}}
Sources:
{{range .Sources}}
[{{.URL}}]
{{.RawText}}
{{end}}
Write the section body in markdown. Cite sources inline as markdown links.`,

	PromptReview: `Review this draft section "{{.Subtopic}}" of a report on "{{.Query}}".
{{if .Guidelines}}
The draft must follow these guidelines:
{{range .Guidelines}}- {{.}}
{{end}}{{end}}{{if .Instructions}}Additional instructions: {{.Instructions}}
{{end}}
Draft:
{{.Draft}}

If the draft is acceptable reply {"accept": true}. Otherwise reply
{"accept": false, "notes": "concrete changes the writer must make"}.`,

	PromptRevise: `Revise the draft section "{{.Subtopic}}" according to the reviewer notes.

Reviewer notes:
{{.Notes}}

Draft:
{{.Draft}}

Reply with the full revised section in markdown only.`,

	PromptLayout: `You are writing the {{.Style}} "{{.Title}}" on the question "{{.Query}}".
{{if .Tone}}Write in a {{.Tone}} tone.
{{end}}{{if .Guidelines}}Follow these guidelines:
{{range .Guidelines}}- {{.}}
{{end}}{{end}}
Research sections:
{{range .Drafts}}
## {{.Title}}
{{if .Content}}{{.Content}}{{else}}(unavailable){{end}}
{{end}}
{{if .Summary}}Reply with JSON: {"overview": "markdown overview of the findings"}{{else}}Reply with JSON: {"introduction": "...", "table_of_contents": "markdown list of the section titles", "conclusion": "..."}{{end}}`,

	PromptHeaders: `Rewrite these section headings so they follow the guidelines. Keep the same keys.

Guidelines:
{{range .Guidelines}}- {{.}}
{{end}}
Headings (JSON):
{{.Headers}}

Reply with the rewritten headings as JSON with the same keys.`,

	PromptExecutiveSummary: `Write an executive summary of at most 150 words for the following report.

{{.Report}}`,
}

// Prompts renders named prompt templates, preferring agent overrides over the
// built-in wording.
type Prompts struct {
	tmpls map[string]*template.Template
}

// NewPrompts parses the built-in templates and applies overrides. An override
// that fails to parse is an error.
func NewPrompts(overrides map[string]string) (*Prompts, error) {
	p := &Prompts{tmpls: make(map[string]*template.Template, len(defaultPrompts))}
	for name, text := range defaultPrompts {
		p.tmpls[name] = template.Must(template.New(name).Parse(text))
	}
	for name, text := range overrides {
		t, err := template.New(name).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing prompt %s: %w", name, err)
		}
		p.tmpls[name] = t
	}
	return p, nil
}

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() *Prompts {
	p, _ := NewPrompts(nil)
	return p
}

// Render executes the named template with data.
func (p *Prompts) Render(name string, data any) (string, error) {
	t, ok := p.tmpls[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", name, err)
	}
	return buf.String(), nil
}
