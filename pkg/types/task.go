// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the research-desk service:
// task configuration, the research state threaded through the pipeline,
// progress events, retrieved sources, and service configuration.
package types

import (
	"fmt"
	"time"
)

// ReportStyle selects which pipeline stages run and how the final layout is
// assembled.
type ReportStyle string

const (
	StyleDetailed    ReportStyle = "detailed report"
	StyleSummary     ReportStyle = "summary"
	StylePolicyBrief ReportStyle = "policy brief"
	StyleLandscape   ReportStyle = "landscape analysis"
	StylePaperBrief  ReportStyle = "research paper brief"
)

const (
	defaultMaxSections  = 5
	defaultMaxRevisions = 2
)

// Valid reports whether s is one of the known report styles.
func (s ReportStyle) Valid() bool {
	switch s {
	case StyleDetailed, StyleSummary, StylePolicyBrief, StyleLandscape, StylePaperBrief:
		return true
	}
	return false
}

// IsSummary reports whether the style is the condensed summary style, which
// skips the review/revise loop and the human-feedback stage.
func (s ReportStyle) IsSummary() bool { return s == StyleSummary }

// PublishFormats enables one exporter per flag.
type PublishFormats struct {
	Markdown bool `json:"markdown" yaml:"markdown"`
	PDF      bool `json:"pdf" yaml:"pdf"`
	DOCX     bool `json:"docx" yaml:"docx"`
}

// Requested returns the enabled format names in a fixed order.
func (p PublishFormats) Requested() []string {
	var out []string
	if p.Markdown {
		out = append(out, "markdown")
	}
	if p.PDF {
		out = append(out, "pdf")
	}
	if p.DOCX {
		out = append(out, "docx")
	}
	return out
}

// TaskConfig holds the per-task stage options supplied by the client or a task
// file.
type TaskConfig struct {
	// Query is the research question.
	Query string `json:"query" yaml:"query"`

	// ReportStyle selects stages and final layout (default "detailed report").
	ReportStyle ReportStyle `json:"report_style" yaml:"report_style"`

	// MaxSections caps the number of subtopics the planner may produce
	// (default 5, at least 1).
	MaxSections *int `json:"max_sections,omitempty" yaml:"max_sections,omitempty"`

	// MaxRevisions caps review/revise iterations per subtopic (default 2).
	// Zero turns revision off.
	MaxRevisions *int `json:"max_revisions,omitempty" yaml:"max_revisions,omitempty"`

	// IncludeHumanFeedback enables the human-feedback gate.
	IncludeHumanFeedback bool `json:"include_human_feedback" yaml:"include_human_feedback"`

	// FeedbackTimeout bounds the socket wait for feedback. Zero waits forever.
	FeedbackTimeout time.Duration `json:"feedback_timeout,omitempty" yaml:"feedback_timeout,omitempty"`

	// PublishFormats selects the exporters run by the publish stage.
	PublishFormats PublishFormats `json:"publish_formats" yaml:"publish_formats"`

	// Model is the generation model name. Empty uses the service default.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Tone is an optional writing tone (e.g. "objective", "analytical").
	Tone string `json:"tone,omitempty" yaml:"tone,omitempty"`

	// SourceURLs restricts retrieval to these pages when non-empty.
	SourceURLs []string `json:"source_urls,omitempty" yaml:"source_urls,omitempty"`

	// IncludeDomains restricts retrieval to these domains when non-empty.
	IncludeDomains []string `json:"include_domains,omitempty" yaml:"include_domains,omitempty"`

	// Guidelines are writing rules applied during composition.
	Guidelines []string `json:"guidelines,omitempty" yaml:"guidelines,omitempty"`

	// FollowGuidelines enables guideline-driven header revision.
	FollowGuidelines bool `json:"follow_guidelines" yaml:"follow_guidelines"`

	// AgentID selects a stored agent specialisation.
	AgentID string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`

	// Verbose emits the intermediate layout as a log event.
	Verbose bool `json:"verbose" yaml:"verbose"`
}

// WithDefaults returns a copy with unset options replaced by defaults. An
// explicit zero is kept.
func (c TaskConfig) WithDefaults() TaskConfig {
	if c.ReportStyle == "" {
		c.ReportStyle = StyleDetailed
	}
	if c.MaxSections == nil {
		c.MaxSections = Int(defaultMaxSections)
	}
	if c.MaxRevisions == nil {
		c.MaxRevisions = Int(defaultMaxRevisions)
	}
	return c
}

// Validate checks option values after defaults were applied.
func (c TaskConfig) Validate() error {
	if !c.ReportStyle.Valid() {
		return fmt.Errorf("unknown report style %q", c.ReportStyle)
	}
	if c.MaxSections != nil && *c.MaxSections < 1 {
		return fmt.Errorf("max_sections must be at least 1, got %d", *c.MaxSections)
	}
	if c.MaxRevisions != nil && *c.MaxRevisions < 0 {
		return fmt.Errorf("max_revisions must not be negative, got %d", *c.MaxRevisions)
	}
	return nil
}

// SectionLimit returns MaxSections, or the default when unset.
func (c TaskConfig) SectionLimit() int {
	if c.MaxSections == nil {
		return defaultMaxSections
	}
	return *c.MaxSections
}

// RevisionLimit returns MaxRevisions, or the default when unset.
func (c TaskConfig) RevisionLimit() int {
	if c.MaxRevisions == nil {
		return defaultMaxRevisions
	}
	return *c.MaxRevisions
}

// Int returns a pointer to n, for optional numeric options.
func Int(n int) *int { return &n }

// SectionPlan is one planned subtopic with optional reviewer instructions.
type SectionPlan struct {
	Title        string `json:"title" yaml:"title"`
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// Titles returns the plan's titles in order.
func Titles(plan []SectionPlan) []string {
	out := make([]string, len(plan))
	for i, s := range plan {
		out[i] = s.Title
	}
	return out
}
