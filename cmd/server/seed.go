package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// seedSpec is the YAML shape of a dev seed file: a list of agents that
// should exist on startup. Upsert keeps reruns idempotent.
type seedSpec struct {
	Agents []struct {
		UserID     string         `yaml:"user_id"`
		Name       string         `yaml:"name"`
		BasePrompt string         `yaml:"base_prompt"`
		Guardrails string         `yaml:"guardrails"`
		Status     string         `yaml:"status"`
		Config     map[string]any `yaml:"config"`
	} `yaml:"agents"`
}

func seedAgents(ctx context.Context, path string, repo domain.AgentRepository) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("op=seedAgents: %w", err)
	}
	var spec seedSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return fmt.Errorf("op=seedAgents: %w", err)
	}
	for _, a := range spec.Agents {
		if a.UserID == "" || a.Name == "" {
			return fmt.Errorf("op=seedAgents: %w: user_id and name are required", domain.ErrInvalidArgument)
		}
		status := domain.AgentStatus(a.Status)
		if status != domain.AgentPaused {
			status = domain.AgentActive
		}
		seeded, err := repo.Upsert(ctx, domain.Agent{
			UserID:     a.UserID,
			Name:       a.Name,
			BasePrompt: a.BasePrompt,
			Guardrails: a.Guardrails,
			Status:     status,
			Config:     a.Config,
		})
		if err != nil {
			return fmt.Errorf("op=seedAgents: %w", err)
		}
		slog.Info("seeded agent", slog.String("agent_id", seeded.ID), slog.String("user_id", seeded.UserID), slog.String("name", seeded.Name))
	}
	return nil
}
