// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"context"

	"github.com/pdiddy/research-desk/pkg/types"
)

// SourceIndex is the slice of the document store the local backend reads.
type SourceIndex interface {
	SearchSources(ctx context.Context, text string, limit int) ([]types.Source, error)
}

// LocalBackend searches sources cached by earlier tasks.
type LocalBackend struct {
	Index SourceIndex
}

// Name returns the backend identifier.
func (b *LocalBackend) Name() string { return "local" }

// Search looks the query up in the local index.
func (b *LocalBackend) Search(ctx context.Context, query Query) ([]types.Source, error) {
	results, err := b.Index.SearchSources(ctx, query.Text, query.limit())
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Backend = b.Name()
	}
	return results, nil
}
