// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pdiddy/research-desk/pkg/types"
)

const maxBaseDepth = 8

// Agent returns the profile with the given id, including its prompt
// templates. A profile with a base id inherits unset fields and prompt
// templates from its base. Returns ErrNotFound if no such agent exists.
func (s *Store) Agent(ctx context.Context, id string) (types.AgentProfile, error) {
	a, err := s.agentRow(ctx, id)
	if err != nil {
		return types.AgentProfile{}, err
	}

	chain := []types.AgentProfile{a}
	seen := map[string]bool{a.ID: true}
	for cur := a; cur.BaseID != "" && len(chain) < maxBaseDepth; {
		if seen[cur.BaseID] {
			break
		}
		base, err := s.agentRow(ctx, cur.BaseID)
		if errors.Is(err, ErrNotFound) {
			break
		}
		if err != nil {
			return types.AgentProfile{}, err
		}
		seen[base.ID] = true
		chain = append(chain, base)
		cur = base
	}

	// Apply from the root base down so nearer profiles win.
	out := types.AgentProfile{Prompts: map[string]string{}}
	for i := len(chain) - 1; i >= 0; i-- {
		p := chain[i]
		prompts, err := s.prompts(ctx, p.ID)
		if err != nil {
			return types.AgentProfile{}, err
		}
		mergeProfile(&out, p)
		for k, v := range prompts {
			out.Prompts[k] = v
		}
	}
	out.ID, out.BaseID, out.Name = a.ID, a.BaseID, a.Name
	if len(out.Prompts) == 0 {
		out.Prompts = nil
	}
	return out, nil
}

func mergeProfile(dst *types.AgentProfile, src types.AgentProfile) {
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Tone != "" {
		dst.Tone = src.Tone
	}
	if src.SystemInstructions != "" {
		dst.SystemInstructions = src.SystemInstructions
	}
	if len(src.IncludeDomains) > 0 {
		dst.IncludeDomains = src.IncludeDomains
	}
}

func (s *Store) agentRow(ctx context.Context, id string) (types.AgentProfile, error) {
	var (
		a                                  types.AgentProfile
		baseID, model, tone, instr, domain sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, base_id, name, model, tone, system_instructions, include_domains
		 FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &baseID, &a.Name, &model, &tone, &instr, &domain)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AgentProfile{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return types.AgentProfile{}, fmt.Errorf("querying agent %s: %w", id, err)
	}
	a.BaseID = baseID.String
	a.Model = model.String
	a.Tone = tone.String
	a.SystemInstructions = instr.String
	a.IncludeDomains = unmarshalList(domain)
	return a, nil
}

func (s *Store) prompts(ctx context.Context, agentID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, template FROM prompt_templates WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, fmt.Errorf("querying prompts for %s: %w", agentID, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, tmpl string
		if err := rows.Scan(&name, &tmpl); err != nil {
			return nil, fmt.Errorf("scanning prompt: %w", err)
		}
		out[name] = tmpl
	}
	return out, rows.Err()
}

// Prompt returns one prompt template of an agent, following base profiles.
// Returns ErrNotFound if neither the agent nor a base defines it.
func (s *Store) Prompt(ctx context.Context, agentID, name string) (string, error) {
	a, err := s.Agent(ctx, agentID)
	if err != nil {
		return "", err
	}
	tmpl, ok := a.Prompts[name]
	if !ok {
		return "", fmt.Errorf("prompt %s for agent %s: %w", name, agentID, ErrNotFound)
	}
	return tmpl, nil
}

// SaveAgent inserts or replaces a profile and its prompt templates.
func (s *Store) SaveAgent(ctx context.Context, a types.AgentProfile) error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if a.Name == "" {
		a.Name = a.ID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO agents (id, base_id, name, model, tone, system_instructions, include_domains)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			base_id=excluded.base_id, name=excluded.name, model=excluded.model,
			tone=excluded.tone, system_instructions=excluded.system_instructions,
			include_domains=excluded.include_domains`,
		a.ID, a.BaseID, a.Name, a.Model, a.Tone, a.SystemInstructions, marshalList(a.IncludeDomains),
	)
	if err != nil {
		return fmt.Errorf("upserting agent %s: %w", a.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM prompt_templates WHERE agent_id = ?`, a.ID); err != nil {
		return fmt.Errorf("clearing prompts for %s: %w", a.ID, err)
	}
	for name, tmpl := range a.Prompts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO prompt_templates (agent_id, name, template) VALUES (?, ?, ?)`,
			a.ID, name, tmpl,
		); err != nil {
			return fmt.Errorf("inserting prompt %s for %s: %w", name, a.ID, err)
		}
	}
	return tx.Commit()
}

// ListAgents returns every stored profile ordered by id, without resolving
// base profiles.
func (s *Store) ListAgents(ctx context.Context) ([]types.AgentProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning agent id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.AgentProfile, 0, len(ids))
	for _, id := range ids {
		a, err := s.agentRow(ctx, id)
		if err != nil {
			return nil, err
		}
		prompts, err := s.prompts(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(prompts) > 0 {
			a.Prompts = prompts
		}
		out = append(out, a)
	}
	return out, nil
}
