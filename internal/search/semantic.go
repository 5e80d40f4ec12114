// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/pdiddy/research-desk/internal/httputil"
	"github.com/pdiddy/research-desk/pkg/types"
)

// semanticAPIBase is the Semantic Scholar paper search endpoint. Declared
// as a var so tests can substitute an httptest server.
var semanticAPIBase = "https://api.semanticscholar.org/graph/v1/paper/search"

const semanticFields = "title,abstract,authors,externalIds,year,url"

// SemanticScholarBackend queries the Semantic Scholar API.
type SemanticScholarBackend struct {
	Client *http.Client
	APIKey string
}

// Name returns the backend identifier.
func (b *SemanticScholarBackend) Name() string { return "semantic_scholar" }

// Search queries the Semantic Scholar API and returns one source per paper
// that has an abstract.
func (b *SemanticScholarBackend) Search(ctx context.Context, query Query) ([]types.Source, error) {
	q := strings.TrimSpace(query.Text)
	if q == "" {
		return nil, fmt.Errorf("empty Semantic Scholar query")
	}

	params := url.Values{
		"query":  {q},
		"limit":  {fmt.Sprintf("%d", query.limit())},
		"fields": {semanticFields},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, semanticAPIBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if b.APIKey != "" {
		req.Header.Set("x-api-key", b.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, clientOrDefault(b.Client), req, 0)
	if err != nil {
		return nil, fmt.Errorf("Semantic Scholar API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Semantic Scholar API returned HTTP %d", resp.StatusCode)
	}

	var sr semanticResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("parsing Semantic Scholar response: %w", err)
	}

	var results []types.Source
	for _, paper := range sr.Data {
		if strings.TrimSpace(paper.Abstract) == "" {
			continue
		}
		var authors []string
		for _, a := range paper.Authors {
			authors = append(authors, a.Name)
		}
		results = append(results, types.Source{
			URL:     semanticURL(paper),
			Title:   paper.Title,
			RawText: paperText(paper.Title, authors, paper.Year, paper.Abstract),
			Backend: b.Name(),
		})
	}
	return results, nil
}

// semanticURL prefers the arXiv abstract page, then the DOI resolver, then
// the Semantic Scholar page.
func semanticURL(p semanticPaper) string {
	switch {
	case p.ExternalIDs.ArXiv != "":
		return "https://arxiv.org/abs/" + p.ExternalIDs.ArXiv
	case p.ExternalIDs.DOI != "":
		return "https://doi.org/" + p.ExternalIDs.DOI
	case p.URL != "":
		return p.URL
	default:
		return "https://www.semanticscholar.org/paper/" + p.PaperID
	}
}

// paperText renders a paper's metadata and abstract as source text.
func paperText(title string, authors []string, year int, abstract string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(title))
	if len(authors) > 0 {
		sb.WriteString("\nAuthors: ")
		sb.WriteString(strings.Join(authors, ", "))
	}
	if year > 0 {
		fmt.Fprintf(&sb, "\nYear: %d", year)
	}
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(abstract))
	return sb.String()
}

func clientOrDefault(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

// Semantic Scholar API JSON structures.
type semanticResponse struct {
	Total int             `json:"total"`
	Data  []semanticPaper `json:"data"`
}

type semanticPaper struct {
	PaperID     string              `json:"paperId"`
	Title       string              `json:"title"`
	Abstract    string              `json:"abstract"`
	Year        int                 `json:"year"`
	URL         string              `json:"url"`
	Authors     []semanticAuthor    `json:"authors"`
	ExternalIDs semanticExternalIDs `json:"externalIds"`
}

type semanticAuthor struct {
	Name string `json:"name"`
}

type semanticExternalIDs struct {
	DOI   string `json:"DOI"`
	ArXiv string `json:"ArXiv"`
}
