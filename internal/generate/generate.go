// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package generate produces text with a large language model. Backends are
// interchangeable behind Generator; Retrying adds exponential backoff and
// GenerateJSON decodes structured replies.
package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/internal/compress"
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("empty response from model")

// Request is one generation call.
type Request struct {
	// System carries the agent's standing instructions.
	System string
	// Prompt is the user turn.
	Prompt string
	// Model overrides the backend's default model when set.
	Model string
	// MaxTokens caps the reply length. Zero uses the backend default.
	MaxTokens int
	// JSON asks the backend for a JSON-only reply.
	JSON bool
}

// Generator abstracts the generation API so stages and tests can substitute
// their own implementation.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// backoffBase controls the base duration for exponential backoff. Tests
// override this to avoid real sleeps.
var backoffBase = time.Second

// Retrying retries a Generator with exponential backoff.
type Retrying struct {
	Next       Generator
	MaxRetries int
	Log        *zap.Logger
}

// NewRetrying wraps g with maxRetries retries.
func NewRetrying(g Generator, maxRetries int, log *zap.Logger) *Retrying {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retrying{Next: g, MaxRetries: maxRetries, Log: log.Named("generate")}
}

// Generate implements Generator.
func (r *Retrying) Generate(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * backoffBase
			r.Log.Debug("retrying generation",
				zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, err := r.Next.Generate(ctx, req)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d retries: %w", r.MaxRetries, lastErr)
}

// GenerateJSON asks g for a JSON reply and decodes it into v. Markdown code
// fences and prose around the JSON value are tolerated.
func GenerateJSON(ctx context.Context, g Generator, req Request, v any) error {
	req.JSON = true
	out, err := g.Generate(ctx, req)
	if err != nil {
		return err
	}
	raw := ExtractJSON(out)
	if raw == "" {
		return fmt.Errorf("no JSON value in model reply: %q", truncate(out, 120))
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("parsing model JSON: %w", err)
	}
	return nil
}

// ExtractJSON returns the outermost JSON object or array in s, or "" if there
// is none.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return compress.Clip(s, n) + "..."
}
