// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pdiddy/research-desk/pkg/types"
)

const (
	minTermLen    = 3
	maxCandidates = 200
)

// SaveSources caches retrieved sources, replacing earlier copies of the same
// URL.
func (s *Store) SaveSources(ctx context.Context, sources []types.Source) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sources (url, title, raw_content, backend, fetched_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			title=excluded.title, raw_content=excluded.raw_content,
			backend=excluded.backend, fetched_at=excluded.fetched_at`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, src := range sources {
		if src.URL == "" || strings.TrimSpace(src.RawText) == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, src.URL, src.Title, src.RawText, src.Backend, now); err != nil {
			return fmt.Errorf("inserting source %s: %w", src.URL, err)
		}
	}
	return tx.Commit()
}

// SearchSources returns cached sources that mention any term of text,
// ranked by how many distinct terms they contain, newest first on ties.
func (s *Store) SearchSources(ctx context.Context, text string, limit int) ([]types.Source, error) {
	terms := searchTerms(text)
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	var where []string
	var args []any
	for _, t := range terms {
		where = append(where, `(lower(title) LIKE ? OR lower(raw_content) LIKE ?)`)
		pattern := "%" + t + "%"
		args = append(args, pattern, pattern)
	}
	args = append(args, maxCandidates)

	rows, err := s.db.QueryContext(ctx,
		`SELECT url, title, raw_content, backend FROM sources
		 WHERE `+strings.Join(where, " OR ")+`
		 ORDER BY fetched_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching sources: %w", err)
	}
	defer rows.Close()

	type scored struct {
		src   types.Source
		score int
	}
	var hits []scored
	for rows.Next() {
		var src types.Source
		var title, backend sql.NullString
		if err := rows.Scan(&src.URL, &title, &src.RawText, &backend); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		src.Title, src.Backend = title.String, backend.String
		hay := strings.ToLower(src.Title + " " + src.RawText)
		n := 0
		for _, t := range terms {
			if strings.Contains(hay, t) {
				n++
			}
		}
		hits = append(hits, scored{src: src, score: n})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]types.Source, len(hits))
	for i, h := range hits {
		out[i] = h.src
	}
	return out, nil
}

// searchTerms lowercases text and keeps distinct words of at least three
// characters, with LIKE wildcards stripped.
func searchTerms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		f = strings.NewReplacer("%", "", "_", "").Replace(f)
		if len(f) < minTermLen || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
