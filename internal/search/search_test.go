// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-desk/pkg/types"
)

// --- mocks ---

type mockBackend struct {
	name    string
	results []types.Source
	err     error
	got     Query
}

func (m *mockBackend) Name() string { return m.name }

func (m *mockBackend) Search(_ context.Context, q Query) ([]types.Source, error) {
	m.got = q
	return m.results, m.err
}

type recordingSink struct {
	saved []types.Source
	err   error
}

func (s *recordingSink) SaveSources(_ context.Context, sources []types.Source) error {
	s.saved = append(s.saved, sources...)
	return s.err
}

func src(url, text string) types.Source { return types.Source{URL: url, RawText: text} }

// --- Gather ---

func TestGatherContinuesAfterBackendFailure(t *testing.T) {
	g := &Gatherer{Backends: []Backend{
		&mockBackend{name: "broken", err: errors.New("connection refused")},
		&mockBackend{name: "ok", results: []types.Source{src("https://a.org/1", "one")}},
	}}

	got := g.Gather(context.Background(), Query{Text: "q"})
	require.Len(t, got, 1)
	assert.Equal(t, "https://a.org/1", got[0].URL)
	assert.Equal(t, "ok", got[0].Backend, "backend name filled in")
}

func TestGatherAllBackendsFail(t *testing.T) {
	g := &Gatherer{Backends: []Backend{
		&mockBackend{name: "a", err: errors.New("x")},
		&mockBackend{name: "b", err: errors.New("y")},
	}}
	assert.Empty(t, g.Gather(context.Background(), Query{Text: "q"}))
}

func TestGatherKeepsBackendOrderAndDedups(t *testing.T) {
	g := &Gatherer{Backends: []Backend{
		&mockBackend{name: "first", results: []types.Source{
			src("https://example.org/paper/", ""),
			src("https://b.org/2", "two"),
		}},
		&mockBackend{name: "second", results: []types.Source{
			src("http://www.example.org/paper", "body from second"),
			src("https://c.org/3", "three"),
		}},
	}}

	got := g.Gather(context.Background(), Query{Text: "q"})
	require.Len(t, got, 3)
	assert.Equal(t, "https://example.org/paper/", got[0].URL)
	assert.Equal(t, "body from second", got[0].RawText, "empty body filled from duplicate")
	assert.Equal(t, "https://b.org/2", got[1].URL)
	assert.Equal(t, "https://c.org/3", got[2].URL)
}

func TestGatherFiltersDomainsAndCaps(t *testing.T) {
	g := &Gatherer{
		MaxResults: 2,
		Backends: []Backend{&mockBackend{name: "m", results: []types.Source{
			src("https://news.example.com/a", "a"),
			src("https://other.net/b", "b"),
			src("https://example.com/c", "c"),
			src("https://www.example.com/d", "d"),
		}}},
	}

	got := g.Gather(context.Background(), Query{Text: "q", IncludeDomains: []string{"example.com"}})
	require.Len(t, got, 2)
	assert.Equal(t, "https://news.example.com/a", got[0].URL)
	assert.Equal(t, "https://example.com/c", got[1].URL)
}

func TestGatherPassesQuery(t *testing.T) {
	m := &mockBackend{name: "m"}
	g := &Gatherer{Backends: []Backend{m}}
	g.Gather(context.Background(), Query{Text: "solar", MaxResults: 3})
	assert.Equal(t, "solar", m.got.Text)
	assert.Equal(t, 3, m.got.limit())
}

func TestGatherSavesToSink(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	g := &Gatherer{
		Sink:     sink,
		Backends: []Backend{&mockBackend{name: "m", results: []types.Source{src("https://a.org", "a")}}},
	}
	got := g.Gather(context.Background(), Query{Text: "q"})
	assert.Len(t, got, 1, "sink failure does not drop results")
	assert.Len(t, sink.saved, 1)
}

// --- helpers ---

func TestInDomains(t *testing.T) {
	tests := []struct {
		url     string
		domains []string
		want    bool
	}{
		{"https://example.com/x", []string{"example.com"}, true},
		{"https://www.example.com/x", []string{"example.com"}, true},
		{"https://sub.example.com/x", []string{"www.example.com"}, true},
		{"https://notexample.com/x", []string{"example.com"}, false},
		{"https://example.org", []string{"example.com", "example.org"}, true},
		{"://bad", []string{"example.com"}, false},
		{"https://example.com", []string{""}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InDomains(tt.url, tt.domains), tt.url)
	}
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, normalizeURL("https://example.org/a"), normalizeURL("http://WWW.example.org/a/#frag"))
	assert.NotEqual(t, normalizeURL("https://example.org/a"), normalizeURL("https://example.org/b"))
}

func TestFromConfig(t *testing.T) {
	cfg := types.RetrievalConfig{
		EnableArxiv:           true,
		EnableSemanticScholar: true,
		EnableOpenAlex:        true,
		EnableLocal:           true,
		CustomEndpoint:        "http://localhost:9/retrieve",
	}

	names := func(bs []Backend) []string {
		var out []string
		for _, b := range bs {
			out = append(out, b.Name())
		}
		return out
	}

	assert.Equal(t, []string{"semantic_scholar", "arxiv", "openalex", "custom"},
		names(FromConfig(cfg, http.DefaultClient, nil)), "local needs an index")
	assert.Contains(t, names(FromConfig(cfg, http.DefaultClient, &fakeIndex{})), "local")
	assert.Empty(t, FromConfig(types.RetrievalConfig{}, http.DefaultClient, nil))
}
