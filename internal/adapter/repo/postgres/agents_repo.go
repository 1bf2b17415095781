package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// AgentRepo persists and loads agent configurations.
type AgentRepo struct{ Pool PgxPool }

// NewAgentRepo constructs an AgentRepo with the given pool.
func NewAgentRepo(p PgxPool) *AgentRepo { return &AgentRepo{Pool: p} }

const agentColumns = `id, user_id, name, base_prompt, COALESCE(guardrails,''), status, COALESCE(config,'{}'::jsonb), created_at`

func scanAgent(row pgx.Row) (domain.Agent, error) {
	var a domain.Agent
	var cfg []byte
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.BasePrompt, &a.Guardrails, &a.Status, &cfg, &a.CreatedAt); err != nil {
		return domain.Agent{}, err
	}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &a.Config); err != nil {
			return domain.Agent{}, err
		}
	}
	return a, nil
}

// FirstForUser returns the user's agent; when several match, the first by
// creation time wins.
func (r *AgentRepo) FirstForUser(ctx domain.Context, userID string) (domain.Agent, error) {
	tracer := otel.Tracer("repo.agents")
	ctx, span := tracer.Start(ctx, "agents.FirstForUser")
	defer span.End()
	q := `SELECT ` + agentColumns + ` FROM agents WHERE user_id=$1 ORDER BY created_at ASC LIMIT 1`
	a, err := scanAgent(r.Pool.QueryRow(ctx, q, userID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Agent{}, fmt.Errorf("op=agents.first_for_user: %w", domain.ErrNotFound)
		}
		return domain.Agent{}, fmt.Errorf("op=agents.first_for_user: %w", err)
	}
	return a, nil
}

// ListForUser returns all agents owned by the user, oldest first.
func (r *AgentRepo) ListForUser(ctx domain.Context, userID string) ([]domain.Agent, error) {
	tracer := otel.Tracer("repo.agents")
	ctx, span := tracer.Start(ctx, "agents.ListForUser")
	defer span.End()
	q := `SELECT ` + agentColumns + ` FROM agents WHERE user_id=$1 ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=agents.list_for_user: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

// ListAll returns every agent; admin surface only.
func (r *AgentRepo) ListAll(ctx domain.Context) ([]domain.Agent, error) {
	tracer := otel.Tracer("repo.agents")
	ctx, span := tracer.Start(ctx, "agents.ListAll")
	defer span.End()
	q := `SELECT ` + agentColumns + ` FROM agents ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("op=agents.list_all: %w", err)
	}
	defer rows.Close()
	return collectAgents(rows)
}

func collectAgents(rows pgx.Rows) ([]domain.Agent, error) {
	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("op=agents.scan: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=agents.rows: %w", err)
	}
	return out, nil
}

// Upsert creates or replaces the user's agent keyed by (user_id, name) and
// returns the stored row. Config round-trips as JSONB.
func (r *AgentRepo) Upsert(ctx domain.Context, a domain.Agent) (domain.Agent, error) {
	tracer := otel.Tracer("repo.agents")
	ctx, span := tracer.Start(ctx, "agents.Upsert")
	defer span.End()
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	if a.Status == "" {
		a.Status = domain.AgentActive
	}
	cfg, err := json.Marshal(a.Config)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("op=agents.upsert: %w", err)
	}
	q := `INSERT INTO agents (id, user_id, name, base_prompt, guardrails, status, config, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	      ON CONFLICT (user_id, name) DO UPDATE
	        SET base_prompt=EXCLUDED.base_prompt,
	            guardrails=EXCLUDED.guardrails,
	            status=EXCLUDED.status,
	            config=EXCLUDED.config
	      RETURNING ` + agentColumns
	stored, err := scanAgent(r.Pool.QueryRow(ctx, q, id, a.UserID, a.Name, a.BasePrompt, a.Guardrails, a.Status, cfg, time.Now().UTC()))
	if err != nil {
		return domain.Agent{}, fmt.Errorf("op=agents.upsert: %w", err)
	}
	return stored, nil
}

// UpdateStatus sets the agent's status (active/paused).
func (r *AgentRepo) UpdateStatus(ctx domain.Context, agentID string, status domain.AgentStatus) error {
	tracer := otel.Tracer("repo.agents")
	ctx, span := tracer.Start(ctx, "agents.UpdateStatus")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `UPDATE agents SET status=$2 WHERE id=$1`, agentID, status)
	if err != nil {
		return fmt.Errorf("op=agents.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=agents.update_status: %w", domain.ErrNotFound)
	}
	return nil
}
