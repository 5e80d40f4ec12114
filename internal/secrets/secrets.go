// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads API keys and credentials from a directory of plain-text files.
// Each file in the directory represents one secret: the filename is the key name and the
// file contents (trimmed) are the value.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/pdiddy/research-desk/pkg/types"
)

// Recognised key files.
const (
	AnthropicAPIKey       = "anthropic-api-key"
	GeminiAPIKey          = "gemini-api-key"
	SemanticScholarAPIKey = "semantic-scholar-api-key"
	OpenAlexEmail         = "openalex-email"
)

// Load reads all files in dir and returns a map of filename to trimmed contents.
// A missing directory or missing files are not errors; Load returns an empty map.
// Unreadable files are logged and skipped.
func Load(dir string, log *zap.Logger) (map[string]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	secrets := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warn("could not read secret", zap.String("name", name), zap.Error(err))
			continue
		}

		value := strings.TrimSpace(string(data))
		if value != "" {
			secrets[name] = value
		}
	}

	return secrets, nil
}

// Apply fills credentials in cfg that are still empty from the loaded secrets.
// Values already set by flags, environment or config file win.
func Apply(secrets map[string]string, cfg *types.Config) {
	if cfg.AI.APIKey == "" {
		switch cfg.AI.Backend {
		case types.GenerationGemini:
			cfg.AI.APIKey = secrets[GeminiAPIKey]
		default:
			cfg.AI.APIKey = secrets[AnthropicAPIKey]
		}
	}
	if cfg.Retrieval.SemanticScholarAPIKey == "" {
		cfg.Retrieval.SemanticScholarAPIKey = secrets[SemanticScholarAPIKey]
	}
	if cfg.Retrieval.OpenAlexEmail == "" {
		cfg.Retrieval.OpenAlexEmail = secrets[OpenAlexEmail]
	}
}
