// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/research-desk/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// --- agents ---

func TestAgentNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Agent(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveAndLoadAgent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := types.AgentProfile{
		ID:                 "energy",
		Name:               "Energy analyst",
		Model:              "claude-test",
		Tone:               "analytical",
		SystemInstructions: "You are an energy policy analyst.",
		IncludeDomains:     []string{"iea.org", "nrel.gov"},
		Prompts:            map[string]string{"review": "Be strict: {{.Draft}}"},
	}
	require.NoError(t, s.SaveAgent(ctx, in))

	got, err := s.Agent(ctx, "energy")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	// Saving again replaces the prompt set.
	in.Prompts = map[string]string{"revise": "x"}
	require.NoError(t, s.SaveAgent(ctx, in))
	got, err = s.Agent(ctx, "energy")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"revise": "x"}, got.Prompts)
}

func TestSaveAgentRequiresID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.SaveAgent(context.Background(), types.AgentProfile{Name: "x"}))
}

func TestAgentInheritsFromBase(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAgent(ctx, types.AgentProfile{
		ID:                 "base",
		Tone:               "objective",
		SystemInstructions: "base instructions",
		Prompts:            map[string]string{"review": "base review", "revise": "base revise"},
	}))
	require.NoError(t, s.SaveAgent(ctx, types.AgentProfile{
		ID:      "child",
		BaseID:  "base",
		Tone:    "casual",
		Prompts: map[string]string{"review": "child review"},
	}))

	got, err := s.Agent(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, "child", got.ID)
	assert.Equal(t, "casual", got.Tone)
	assert.Equal(t, "base instructions", got.SystemInstructions)
	assert.Equal(t, map[string]string{"review": "child review", "revise": "base revise"}, got.Prompts)

	tmpl, err := s.Prompt(ctx, "child", "revise")
	require.NoError(t, err)
	assert.Equal(t, "base revise", tmpl)

	_, err = s.Prompt(ctx, "child", "layout")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAgentBaseCycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveAgent(ctx, types.AgentProfile{ID: "a", BaseID: "b", Tone: "a-tone"}))
	require.NoError(t, s.SaveAgent(ctx, types.AgentProfile{ID: "b", BaseID: "a", Tone: "b-tone"}))

	got, err := s.Agent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a-tone", got.Tone)
}

func TestAgentMissingBaseIgnored(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveAgent(ctx, types.AgentProfile{ID: "orphan", BaseID: "gone", Model: "m"}))

	got, err := s.Agent(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, "m", got.Model)
}

// --- seed import/export ---

const seedYAML = `agents:
  - id: policy
    name: Policy writer
    tone: formal
    include_domains: [gov.uk]
    prompts:
      layout: "Write for ministers."
  - id: quick
    name: Quick summariser
`

func TestImportExportYAML(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.ImportYAML(ctx, strings.NewReader(seedYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	agents, err := s.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "policy", agents[0].ID)
	assert.Equal(t, []string{"gov.uk"}, agents[0].IncludeDomains)
	assert.Equal(t, "Write for ministers.", agents[0].Prompts["layout"])

	var buf bytes.Buffer
	require.NoError(t, s.ExportYAML(ctx, &buf))

	other := openTestStore(t)
	n, err = other.ImportYAML(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	roundTrip, err := other.ListAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, agents, roundTrip)
}

func TestImportYAMLErrors(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.ImportYAML(ctx, strings.NewReader(""))
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.ImportYAML(ctx, strings.NewReader("agents: [unterminated"))
	assert.Error(t, err)

	n, err = s.ImportYAML(ctx, strings.NewReader("agents:\n  - name: no id\n"))
	assert.Error(t, err)
	assert.Zero(t, n)
}

// --- sources ---

func TestSaveAndSearchSources(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSources(ctx, []types.Source{
		{URL: "https://a.org", Title: "Grid storage", RawText: "Batteries for grid storage.", Backend: "arxiv"},
		{URL: "https://b.org", Title: "Solar", RawText: "Solar panels on the grid."},
		{URL: "https://c.org", Title: "Wind", RawText: "Offshore wind farms."},
		{URL: "https://empty.org", RawText: "   "},
		{URL: "", RawText: "no url"},
	}))

	got, err := s.SearchSources(ctx, "grid storage batteries", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://a.org", got[0].URL, "more terms ranks first")
	assert.Equal(t, "arxiv", got[0].Backend)
	assert.Equal(t, "https://b.org", got[1].URL)

	got, err = s.SearchSources(ctx, "grid", 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = s.SearchSources(ctx, "of a", 5)
	require.NoError(t, err)
	assert.Empty(t, got, "short terms are ignored")
}

func TestSaveSourcesReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSources(ctx, []types.Source{{URL: "https://a.org", RawText: "old tidal text"}}))
	require.NoError(t, s.SaveSources(ctx, []types.Source{{URL: "https://a.org", RawText: "new tidal text"}}))

	got, err := s.SearchSources(ctx, "tidal", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new tidal text", got[0].RawText)
}

func TestSearchTerms(t *testing.T) {
	assert.Equal(t, []string{"grid", "storage"}, searchTerms("Grid, storage? grid of"))
	assert.Equal(t, []string{"abc"}, searchTerms("a%b_c"))
	assert.Empty(t, searchTerms("  "))
}
