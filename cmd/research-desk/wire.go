// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/compress"
	"github.com/pdiddy/research-desk/internal/container"
	"github.com/pdiddy/research-desk/internal/export"
	"github.com/pdiddy/research-desk/internal/generate"
	"github.com/pdiddy/research-desk/internal/httputil"
	"github.com/pdiddy/research-desk/internal/pipeline"
	"github.com/pdiddy/research-desk/internal/progress"
	"github.com/pdiddy/research-desk/internal/search"
	"github.com/pdiddy/research-desk/internal/store"
	"github.com/pdiddy/research-desk/pkg/types"
)

// generationTimeout bounds one model call; long sections take a while.
const generationTimeout = 3 * time.Minute

// newGenerator builds the configured generation backend wrapped with retries.
func newGenerator(ctx context.Context, cfg types.Config) (generate.Generator, error) {
	if cfg.AI.APIKey == "" {
		return nil, fmt.Errorf("no API key for the %s backend: set ai.api_key, RESEARCH_DESK_AI_API_KEY or a .secrets/ file", cfg.AI.Backend)
	}

	var g generate.Generator
	switch cfg.AI.Backend {
	case types.GenerationGemini:
		gb, err := generate.NewGeminiBackend(ctx, cfg.AI.APIKey, cfg.AI.Model)
		if err != nil {
			return nil, err
		}
		g = gb
	case types.GenerationClaude, "":
		g = &generate.ClaudeBackend{
			APIKey: cfg.AI.APIKey,
			Model:  cfg.AI.Model,
			Client: httputil.NewClient(types.HTTPConfig{Timeout: generationTimeout}),
		}
	default:
		return nil, fmt.Errorf("unknown generation backend %q", cfg.AI.Backend)
	}
	return generate.NewRetrying(g, cfg.AI.MaxRetries, logger), nil
}

// newPublisher detects a container runtime for pandoc. Without one only
// markdown can be published.
func newPublisher(ctx context.Context, cfg types.Config) *export.Publisher {
	p := &export.Publisher{Image: cfg.Export.PandocImage, Log: logger.Named("export")}
	rt, err := container.DetectRuntime(ctx)
	if err != nil {
		logger.Info("pdf and docx export disabled", zap.Error(err))
		return p
	}
	p.Runtime = rt
	return p
}

// newPipeline wires the collaborators shared by every task. st may be nil.
func newPipeline(ctx context.Context, cfg types.Config, st *store.Store, emitter progress.Emitter, gate *pipeline.Gate) (*pipeline.Pipeline, error) {
	gen, err := newGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := httputil.NewClient(cfg.Retrieval.HTTPConfig)
	gatherer := &search.Gatherer{
		MaxResults: cfg.Retrieval.MaxResults,
		Log:        logger,
	}
	opts := pipeline.Options{
		Generator:      gen,
		Retriever:      gatherer,
		HTTPClient:     client,
		Gate:           gate,
		Publisher:      newPublisher(ctx, cfg),
		Emitter:        emitter,
		OutputDir:      cfg.Export.OutputDir,
		MaxConcurrency: cfg.Server.MaxConcurrency,
		Compression: compress.Options{
			Budget:    cfg.Retrieval.ContextBudget,
			MaxChunks: cfg.Retrieval.ContextChunks,
		},
		Log: logger,
	}

	var index search.SourceIndex
	if st != nil {
		opts.Agents = st
		gatherer.Sink = st
		if cfg.Retrieval.EnableLocal {
			index = st
		}
	}
	gatherer.Backends = search.FromConfig(cfg.Retrieval, client, index)
	return pipeline.New(opts), nil
}

// openStore opens the document store, logging instead of failing so tasks
// still run with default agents when the database is unavailable.
func openStore(cfg types.Config) *store.Store {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		logger.Warn("document store unavailable", zap.String("path", cfg.Store.Path), zap.Error(err))
		return nil
	}
	return st
}
