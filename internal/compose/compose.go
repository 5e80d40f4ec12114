// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package compose assembles the final report: default section headings per
// report style, the reference list, and the canonical markdown rendering of a
// research state's layout.
package compose

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pdiddy/research-desk/pkg/types"
)

// Unavailable replaces the body of a subtopic whose research job failed.
const Unavailable = "_This section is unavailable: research for this subtopic failed._"

// DefaultHeaders returns the section headings for style. The summary style
// has only an overview and references; every other style is a full report.
func DefaultHeaders(style types.ReportStyle, title string) types.Headers {
	if style.IsSummary() {
		return types.Headers{
			Title:      title,
			Overview:   "Overview",
			References: "References",
		}
	}
	return types.Headers{
		Title:           title,
		Date:            "Date",
		Introduction:    "Introduction",
		TableOfContents: "Table of Contents",
		Conclusion:      "Conclusion",
		References:      "References",
	}
}

// MergeHeaders overlays revised onto base. Only headings present in base are
// taken, so a revision cannot add sections the style does not render.
func MergeHeaders(base, revised types.Headers) types.Headers {
	pick := func(b, r string) string {
		if b == "" || strings.TrimSpace(r) == "" {
			return b
		}
		return strings.TrimSpace(r)
	}
	return types.Headers{
		Title:           pick(base.Title, revised.Title),
		Date:            pick(base.Date, revised.Date),
		Introduction:    pick(base.Introduction, revised.Introduction),
		TableOfContents: pick(base.TableOfContents, revised.TableOfContents),
		Conclusion:      pick(base.Conclusion, revised.Conclusion),
		Overview:        pick(base.Overview, revised.Overview),
		References:      pick(base.References, revised.References),
	}
}

// linkPattern matches inline markdown links: [text](http...).
var linkPattern = regexp.MustCompile(`\[([^\[\]]+)\]\((https?://[^)\s]+)\)`)

type link struct {
	text string
	url  string
}

// extractLinks returns the links in text in order of first appearance.
func extractLinks(text string) []link {
	var out []link
	for _, m := range linkPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, link{text: strings.TrimSpace(m[1]), url: m[2]})
	}
	return out
}

func urlKey(u string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(u)), "/")
}

// References builds the reference list. Sources cited inline in the drafts
// come first, in citation order; when nothing is cited every retrieved source
// is listed. Entries are markdown links, one per URL.
func References(drafts types.Drafts, sources []types.Source) []string {
	titles := make(map[string]string, len(sources))
	for _, s := range sources {
		if s.Title != "" {
			titles[urlKey(s.URL)] = s.Title
		}
	}

	seen := make(map[string]bool)
	var refs []string
	add := func(name, url string) {
		k := urlKey(url)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		if t, ok := titles[k]; ok {
			name = t
		}
		if name == "" {
			name = url
		}
		refs = append(refs, fmt.Sprintf("[%s](%s)", name, url))
	}

	for _, d := range drafts.Entries() {
		if d.Content == nil {
			continue
		}
		for _, l := range extractLinks(*d.Content) {
			add(l.text, l.url)
		}
	}
	if len(refs) > 0 {
		return refs
	}
	for _, s := range sources {
		add(s.Title, s.URL)
	}
	return refs
}

// Render produces the canonical markdown for the state's layout. Subtopics
// appear in draft order. The summary style renders only the overview and the
// references.
func Render(st types.ResearchState) string {
	l := st.Layout
	h := l.Headers
	if h.Title == "" {
		h = MergeHeaders(DefaultHeaders(st.Task.ReportStyle, st.Title), h)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", h.Title)

	if st.Task.ReportStyle.IsSummary() {
		section(&b, h.Overview, l.Overview)
		references(&b, h.References, l.References)
		return strings.TrimRight(b.String(), "\n") + "\n"
	}

	if st.Date != "" {
		fmt.Fprintf(&b, "#### %s: %s\n\n", h.Date, st.Date)
	}
	if l.ExecutiveSummary != "" {
		section(&b, "Executive Summary", l.ExecutiveSummary)
	}
	section(&b, h.Introduction, l.Introduction)
	section(&b, h.TableOfContents, l.TableOfContents)
	for _, d := range st.Drafts.Entries() {
		body := Unavailable
		if d.Content != nil {
			body = *d.Content
		}
		section(&b, d.Title, stripHeading(body, d.Title))
	}
	section(&b, h.Conclusion, l.Conclusion)
	references(&b, h.References, l.References)
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func section(b *strings.Builder, heading, body string) {
	body = strings.TrimSpace(body)
	if heading == "" || body == "" {
		return
	}
	fmt.Fprintf(b, "## %s\n\n%s\n\n", heading, body)
}

func references(b *strings.Builder, heading string, refs []string) {
	if len(refs) == 0 {
		return
	}
	if heading == "" {
		heading = "References"
	}
	fmt.Fprintf(b, "## %s\n\n", heading)
	for _, r := range refs {
		r = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(r), "- "))
		fmt.Fprintf(b, "- %s\n", r)
	}
	b.WriteString("\n")
}

// stripHeading drops a leading markdown heading that repeats the section
// title, since Render writes its own.
func stripHeading(body, title string) string {
	body = strings.TrimSpace(body)
	first, rest, _ := strings.Cut(body, "\n")
	if strings.HasPrefix(first, "#") &&
		strings.EqualFold(strings.TrimSpace(strings.TrimLeft(first, "#")), title) {
		return strings.TrimSpace(rest)
	}
	return body
}
