// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package compress narrows retrieved sources to the passages most relevant to
// a query before they are put into a prompt. Sources are split into chunks,
// chunks are scored against the query with BM25, and the best chunks are kept
// within a character budget. Kept passages stay with their source, in source
// order, so citations still point at the right URL.
package compress

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pdiddy/research-desk/pkg/types"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 100
	DefaultMaxChunks = 8
	DefaultBudget    = 8000

	bm25K1 = 1.2
	bm25B  = 0.75
)

// Gap joins non-adjacent passages of one source.
const Gap = "\n\n[...]\n\n"

// Options bounds the compressed context. Sizes count runes. Zero values use
// the defaults; a negative Overlap turns overlap off.
type Options struct {
	ChunkSize int
	Overlap   int
	MaxChunks int
	Budget    int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		o.Overlap = 0
	} else if o.Overlap == 0 {
		o.Overlap = min(DefaultOverlap, o.ChunkSize/4)
	}
	if o.MaxChunks <= 0 {
		o.MaxChunks = DefaultMaxChunks
	}
	if o.Budget <= 0 {
		o.Budget = DefaultBudget
	}
	return o
}

type chunk struct {
	source int
	index  int
	text   string
	runes  int
	terms  map[string]int
	length int
	score  float64
}

// Sources returns copies of sources whose RawText holds only the passages
// most relevant to query. Sources without a kept passage are left out. When
// no chunk shares a term with the query, the opening chunk of each source is
// kept instead, as far as the budget allows.
func Sources(query string, sources []types.Source, opts Options) []types.Source {
	opts = opts.withDefaults()

	var chunks []*chunk
	for i, s := range sources {
		for j, text := range Split(s.RawText, opts.ChunkSize, opts.Overlap) {
			terms, n := termCounts(text)
			chunks = append(chunks, &chunk{
				source: i, index: j, text: text,
				runes: utf8.RuneCountInString(text),
				terms: terms, length: n,
			})
		}
	}
	if len(chunks) == 0 {
		return nil
	}

	score(chunks, queryTerms(query))
	picked := pick(chunks, opts)
	if len(picked) == 0 {
		picked = leading(chunks, opts)
	}
	return assemble(sources, picked)
}

// score sets each chunk's BM25 score against the query terms.
func score(chunks []*chunk, query []string) {
	if len(query) == 0 {
		return
	}
	df := make(map[string]int, len(query))
	total := 0
	for _, c := range chunks {
		total += c.length
		for _, q := range query {
			if c.terms[q] > 0 {
				df[q]++
			}
		}
	}
	n := float64(len(chunks))
	avg := float64(total) / n
	if avg == 0 {
		avg = 1
	}
	for _, c := range chunks {
		for _, q := range query {
			tf := float64(c.terms[q])
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[q])+0.5)/(float64(df[q])+0.5))
			norm := tf + bm25K1*(1-bm25B+bm25B*float64(c.length)/avg)
			c.score += idf * tf * (bm25K1 + 1) / norm
		}
	}
}

// pick takes the highest scoring chunks that fit the budget.
func pick(chunks []*chunk, opts Options) []*chunk {
	ranked := make([]*chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.score > 0 {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []*chunk
	used := 0
	for _, c := range ranked {
		if len(out) == opts.MaxChunks {
			break
		}
		if used+c.runes > opts.Budget {
			continue
		}
		used += c.runes
		out = append(out, c)
	}
	return out
}

// leading takes the first chunk of each source while the budget allows.
func leading(chunks []*chunk, opts Options) []*chunk {
	var out []*chunk
	used := 0
	for _, c := range chunks {
		if c.index != 0 || len(out) == opts.MaxChunks {
			continue
		}
		if used+c.runes > opts.Budget {
			break
		}
		used += c.runes
		out = append(out, c)
	}
	return out
}

func assemble(sources []types.Source, picked []*chunk) []types.Source {
	sort.Slice(picked, func(i, j int) bool {
		if picked[i].source != picked[j].source {
			return picked[i].source < picked[j].source
		}
		return picked[i].index < picked[j].index
	})

	var out []types.Source
	for start := 0; start < len(picked); {
		end := start
		for end < len(picked) && picked[end].source == picked[start].source {
			end++
		}
		var b strings.Builder
		for k := start; k < end; k++ {
			if k > start {
				if picked[k].index == picked[k-1].index+1 {
					b.WriteString("\n\n")
				} else {
					b.WriteString(Gap)
				}
			}
			b.WriteString(picked[k].text)
		}
		src := sources[picked[start].source]
		src.RawText = b.String()
		out = append(out, src)
		start = end
	}
	return out
}
