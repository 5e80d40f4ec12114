// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pdiddy/research-desk/internal/httputil"
	"github.com/pdiddy/research-desk/pkg/types"
)

// CustomBackend posts the query to a user-supplied retrieval endpoint.
//
// The request body is {"query": ..., <Params>...}. The endpoint may answer
// either with a list of {url, raw_content} objects or with
// {"docs": [{"snippet": ..., "metadata": {"external_link": ...}}]}.
type CustomBackend struct {
	Endpoint string
	Params   map[string]string
	Client   *http.Client
}

// Name returns the backend identifier.
func (b *CustomBackend) Name() string { return "custom" }

// Search posts the query and decodes either response shape.
func (b *CustomBackend) Search(ctx context.Context, query Query) ([]types.Source, error) {
	if b.Endpoint == "" {
		return nil, fmt.Errorf("custom retriever endpoint not configured")
	}

	payload := map[string]string{}
	for k, v := range b.Params {
		payload[k] = v
	}
	payload["query"] = query.Text
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httputil.DoWithRetry(ctx, clientOrDefault(b.Client), req, 0)
	if err != nil {
		return nil, fmt.Errorf("custom retriever request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("custom retriever returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading custom retriever response: %w", err)
	}
	results, err := decodeCustom(data)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Backend = b.Name()
	}
	if len(results) > query.limit() {
		results = results[:query.limit()]
	}
	return results, nil
}

type customDoc struct {
	Snippet  string `json:"snippet"`
	Metadata struct {
		ExternalLink string `json:"external_link"`
		Title        string `json:"title"`
	} `json:"metadata"`
}

func decodeCustom(data []byte) ([]types.Source, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []types.Source
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("parsing custom retriever response: %w", err)
		}
		return list, nil
	}

	var wrapped struct {
		Docs []customDoc `json:"docs"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("parsing custom retriever response: %w", err)
	}
	var out []types.Source
	for _, d := range wrapped.Docs {
		if d.Metadata.ExternalLink == "" {
			continue
		}
		out = append(out, types.Source{
			URL:     d.Metadata.ExternalLink,
			Title:   d.Metadata.Title,
			RawText: d.Snippet,
		})
	}
	return out, nil
}
