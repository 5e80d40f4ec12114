// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/research-desk/pkg/types"
)

// Seed is the YAML document used to import and export agent profiles.
type Seed struct {
	Agents []types.AgentProfile `yaml:"agents"`
}

// ImportYAML reads a seed document from r and saves every agent in it.
// It returns the number of agents imported.
func (s *Store) ImportYAML(ctx context.Context, r io.Reader) (int, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&seed); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("parsing agent seed: %w", err)
	}
	for i, a := range seed.Agents {
		if err := s.SaveAgent(ctx, a); err != nil {
			return i, err
		}
	}
	return len(seed.Agents), nil
}

// ExportYAML writes every stored agent to w as a seed document.
func (s *Store) ExportYAML(ctx context.Context, w io.Writer) error {
	agents, err := s.ListAgents(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Seed{Agents: agents}); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}
