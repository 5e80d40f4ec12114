// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pdiddy/research-desk/internal/httputil"
	"github.com/pdiddy/research-desk/pkg/types"
)

// openAlexSearchBase is the OpenAlex Works search endpoint. Declared as a
// var so tests can substitute an httptest server.
var openAlexSearchBase = "https://api.openalex.org/works"

const openAlexMaxPerPage = 200

// OpenAlexBackend queries the OpenAlex API.
type OpenAlexBackend struct {
	Client *http.Client
	// Email is sent as mailto parameter for polite pool access.
	Email string
}

// Name returns the backend identifier.
func (b *OpenAlexBackend) Name() string { return "openalex" }

// Search queries the OpenAlex API and returns one source per work with an
// abstract.
func (b *OpenAlexBackend) Search(ctx context.Context, query Query) ([]types.Source, error) {
	searchText := strings.TrimSpace(query.Text)
	if searchText == "" {
		return nil, fmt.Errorf("empty OpenAlex query")
	}

	perPage := query.limit()
	if perPage > openAlexMaxPerPage {
		perPage = openAlexMaxPerPage
	}
	params := url.Values{
		"search":   {searchText},
		"per_page": {fmt.Sprintf("%d", perPage)},
		"page":     {"1"},
	}
	if b.Email != "" {
		params.Set("mailto", b.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := httputil.DoWithRetry(ctx, clientOrDefault(b.Client), req, 0)
	if err != nil {
		return nil, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	var results []types.Source
	for _, work := range oar.Results {
		abstract := reconstructAbstract(work.AbstractInvertedIndex)
		if abstract == "" {
			continue
		}
		var authors []string
		for _, authorship := range work.Authorships {
			if authorship.Author.DisplayName != "" {
				authors = append(authors, authorship.Author.DisplayName)
			}
		}
		results = append(results, types.Source{
			URL:     openAlexURL(work),
			Title:   work.Title,
			RawText: paperText(work.Title, authors, work.PublicationYear, abstract),
			Backend: b.Name(),
		})
	}
	return results, nil
}

// openAlexURL prefers the DOI resolver, then the open access copy, then the
// OpenAlex work id (itself a URL).
func openAlexURL(w openAlexWork) string {
	switch {
	case w.DOI != "":
		return "https://doi.org/" + strings.TrimPrefix(w.DOI, "https://doi.org/")
	case w.OpenAccess.OAURL != "":
		return w.OpenAccess.OAURL
	default:
		return w.ID
	}
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to a list of positions
// where that word appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Results []openAlexWork `json:"results"`
}

type openAlexWork struct {
	ID                    string               `json:"id"`
	Title                 string               `json:"title"`
	DOI                   string               `json:"doi"`
	PublicationYear       int                  `json:"publication_year"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	OpenAccess            openAlexOpenAccess   `json:"open_access"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	DisplayName string `json:"display_name"`
}

type openAlexOpenAccess struct {
	OAURL string `json:"oa_url"`
}
