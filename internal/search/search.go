// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package search retrieves source documents for a research query. Backends
// (academic APIs, a custom endpoint, explicit URLs, the local store) share one
// interface; Gatherer queries them concurrently and merges what comes back.
package search

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/research-desk/pkg/types"
)

const defaultMaxResults = 5

// Backend retrieves sources from a single provider. Per the Strategy pattern
// each provider lives in its own file.
type Backend interface {
	Name() string
	Search(ctx context.Context, query Query) ([]types.Source, error)
}

// Query holds the retrieval parameters.
type Query struct {
	// Text is the free-text research question or subtopic.
	Text string
	// MaxResults caps results per backend. Zero uses the default (5).
	MaxResults int
	// IncludeDomains keeps only sources hosted on these domains when set.
	IncludeDomains []string
}

func (q Query) limit() int {
	if q.MaxResults > 0 {
		return q.MaxResults
	}
	return defaultMaxResults
}

// Retriever is what the pipeline stages depend on.
type Retriever interface {
	Gather(ctx context.Context, query Query) []types.Source
}

// Sink receives every merged result set, typically to cache it locally.
type Sink interface {
	SaveSources(ctx context.Context, sources []types.Source) error
}

// Gatherer fans a query out to every backend and merges the results.
type Gatherer struct {
	Backends []Backend
	// MaxResults caps the merged result. Zero keeps everything.
	MaxResults int
	// Sink is optional.
	Sink Sink
	Log  *zap.Logger
}

// Gather queries all backends concurrently. A failing backend contributes no
// sources and never fails the call. Results keep backend order, are filtered
// by the query's include domains and deduplicated by URL.
func (g *Gatherer) Gather(ctx context.Context, query Query) []types.Source {
	log := g.Log
	if log == nil {
		log = zap.NewNop()
	}

	slots := make([][]types.Source, len(g.Backends))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, b := range g.Backends {
		eg.Go(func() error {
			results, err := b.Search(egCtx, query)
			if err != nil {
				log.Warn("backend failed", zap.String("backend", b.Name()), zap.Error(err))
				return nil
			}
			for j := range results {
				if results[j].Backend == "" {
					results[j].Backend = b.Name()
				}
			}
			slots[i] = results
			return nil
		})
	}
	_ = eg.Wait()

	var all []types.Source
	for _, s := range slots {
		all = append(all, s...)
	}
	merged := deduplicate(filterDomains(all, query.IncludeDomains))
	if g.MaxResults > 0 && len(merged) > g.MaxResults {
		merged = merged[:g.MaxResults]
	}
	if g.Sink != nil && len(merged) > 0 {
		if err := g.Sink.SaveSources(ctx, merged); err != nil {
			log.Warn("caching sources", zap.Error(err))
		}
	}
	return merged
}

// deduplicate keeps the first source for each normalized URL, filling an
// empty body from later duplicates.
func deduplicate(sources []types.Source) []types.Source {
	seen := make(map[string]int)
	var out []types.Source
	for _, s := range sources {
		if s.URL == "" {
			continue
		}
		key := normalizeURL(s.URL)
		if idx, ok := seen[key]; ok {
			if out[idx].RawText == "" {
				out[idx].RawText = s.RawText
			}
			if out[idx].Title == "" {
				out[idx].Title = s.Title
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, s)
	}
	return out
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(raw)
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

func filterDomains(sources []types.Source, domains []string) []types.Source {
	if len(domains) == 0 {
		return sources
	}
	var out []types.Source
	for _, s := range sources {
		if InDomains(s.URL, domains) {
			out = append(out, s)
		}
	}
	return out
}

// InDomains reports whether rawURL is hosted on one of domains or a
// subdomain of one.
func InDomains(rawURL string, domains []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "www.")
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
