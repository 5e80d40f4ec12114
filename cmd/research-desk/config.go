// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/research-desk/internal/compress"
	"github.com/pdiddy/research-desk/internal/export"
	"github.com/pdiddy/research-desk/internal/httputil"
	"github.com/pdiddy/research-desk/internal/secrets"
	"github.com/pdiddy/research-desk/internal/store"
	"github.com/pdiddy/research-desk/pkg/types"
)

func setDefaults() {
	viper.SetDefault("server.addr", "127.0.0.1:8000")
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.max_concurrency", 0)

	viper.SetDefault("retrieval.timeout", 30*time.Second)
	viper.SetDefault("retrieval.user_agent", httputil.DefaultUserAgent)
	viper.SetDefault("retrieval.max_results", 5)
	viper.SetDefault("retrieval.context_budget", compress.DefaultBudget)
	viper.SetDefault("retrieval.context_chunks", compress.DefaultMaxChunks)
	viper.SetDefault("retrieval.enable_arxiv", true)
	viper.SetDefault("retrieval.enable_semantic_scholar", true)
	viper.SetDefault("retrieval.enable_openalex", true)
	viper.SetDefault("retrieval.enable_local", true)

	viper.SetDefault("ai.backend", string(types.GenerationClaude))
	viper.SetDefault("ai.max_retries", 3)

	viper.SetDefault("export.output_dir", "outputs")
	viper.SetDefault("export.pandoc_image", export.DefaultPandocImage)

	viper.SetDefault("store.path", store.DefaultPath)
}

// loadConfig assembles the service configuration from flags bound to viper,
// RESEARCH_DESK_* environment variables, the config file and defaults, then
// fills missing credentials from .secrets/.
func loadConfig() types.Config {
	cfg := types.Config{
		Server: types.ServerConfig{
			Addr:           viper.GetString("server.addr"),
			WriteTimeout:   viper.GetDuration("server.write_timeout"),
			MaxConcurrency: viper.GetInt("server.max_concurrency"),
		},
		Retrieval: types.RetrievalConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   viper.GetDuration("retrieval.timeout"),
				UserAgent: viper.GetString("retrieval.user_agent"),
			},
			MaxResults:            viper.GetInt("retrieval.max_results"),
			ContextBudget:         viper.GetInt("retrieval.context_budget"),
			ContextChunks:         viper.GetInt("retrieval.context_chunks"),
			EnableArxiv:           viper.GetBool("retrieval.enable_arxiv"),
			EnableSemanticScholar: viper.GetBool("retrieval.enable_semantic_scholar"),
			EnableOpenAlex:        viper.GetBool("retrieval.enable_openalex"),
			EnableLocal:           viper.GetBool("retrieval.enable_local"),
			CustomEndpoint:        viper.GetString("retrieval.custom_endpoint"),
			SemanticScholarAPIKey: viper.GetString("retrieval.semantic_scholar_api_key"),
			OpenAlexEmail:         viper.GetString("retrieval.openalex_email"),
		},
		AI: types.AIConfig{
			Backend:    types.GenerationBackend(viper.GetString("ai.backend")),
			Model:      viper.GetString("ai.model"),
			APIKey:     viper.GetString("ai.api_key"),
			MaxRetries: viper.GetInt("ai.max_retries"),
		},
		Export: types.ExportConfig{
			OutputDir:   viper.GetString("export.output_dir"),
			PandocImage: viper.GetString("export.pandoc_image"),
		},
		Store: types.StoreConfig{
			Path: viper.GetString("store.path"),
		},
	}
	secrets.Apply(loadedSecrets, &cfg)
	return cfg
}
