// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package search

import (
	"net/http"

	"github.com/pdiddy/research-desk/pkg/types"
)

// FromConfig builds the enabled backends. index may be nil when no local
// store is available.
func FromConfig(cfg types.RetrievalConfig, client *http.Client, index SourceIndex) []Backend {
	var backends []Backend
	if cfg.EnableSemanticScholar {
		backends = append(backends, &SemanticScholarBackend{Client: client, APIKey: cfg.SemanticScholarAPIKey})
	}
	if cfg.EnableArxiv {
		backends = append(backends, &ArxivBackend{Client: client})
	}
	if cfg.EnableOpenAlex {
		backends = append(backends, &OpenAlexBackend{Client: client, Email: cfg.OpenAlexEmail})
	}
	if cfg.CustomEndpoint != "" {
		backends = append(backends, &CustomBackend{Endpoint: cfg.CustomEndpoint, Client: client})
	}
	if cfg.EnableLocal && index != nil {
		backends = append(backends, &LocalBackend{Index: index})
	}
	return backends
}
