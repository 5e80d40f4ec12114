// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package generate

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when neither the task nor the config names a model.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiBackend calls the Gemini API through the genai SDK.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// GeminiOption configures the genai client.
type GeminiOption func(*genai.ClientConfig)

// WithGeminiBaseURL points the client at a different endpoint.
func WithGeminiBaseURL(url string) GeminiOption {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPOptions.BaseURL = url
	}
}

// NewGeminiBackend creates a Gemini client for apiKey.
func NewGeminiBackend(ctx context.Context, apiKey, model string, opts ...GeminiOption) (*GeminiBackend, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, o := range opts {
		o(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating GenAI client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

// Generate implements Generator.
func (g *GeminiBackend) Generate(ctx context.Context, req Request) (string, error) {
	model := firstNonEmpty(req.Model, g.model, DefaultGeminiModel)

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("calling Gemini API: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
