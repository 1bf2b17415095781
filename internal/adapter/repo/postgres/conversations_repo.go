package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// ConversationRepo logs chat turns and reads back recent history.
type ConversationRepo struct{ Pool PgxPool }

// NewConversationRepo constructs a ConversationRepo with the given pool.
func NewConversationRepo(p PgxPool) *ConversationRepo { return &ConversationRepo{Pool: p} }

// Log stores one user/bot exchange.
func (r *ConversationRepo) Log(ctx domain.Context, t domain.ConversationTurn) error {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.Log")
	defer span.End()
	q := `INSERT INTO conversations (id, agent_id, user_id, user_message, bot_response, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	_, err := r.Pool.Exec(ctx, q, uuid.New().String(), t.AgentID, t.UserID, t.UserMessage, t.BotResponse, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=conversations.log: %w", err)
	}
	return nil
}

// History returns the most recent limit turns in chronological order,
// flattened into alternating user/model entries.
func (r *ConversationRepo) History(ctx domain.Context, agentID, userID string, limit int) ([]domain.HistoryEntry, error) {
	tracer := otel.Tracer("repo.conversations")
	ctx, span := tracer.Start(ctx, "conversations.History")
	defer span.End()
	// Newest-first fetch bounded by limit, then reversed into chronology.
	q := `SELECT user_message, bot_response FROM conversations WHERE agent_id=$1 AND user_id=$2 ORDER BY created_at DESC LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, agentID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=conversations.history: %w", err)
	}
	defer rows.Close()
	var turns []domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		if err := rows.Scan(&t.UserMessage, &t.BotResponse); err != nil {
			return nil, fmt.Errorf("op=conversations.scan: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=conversations.rows: %w", err)
	}
	history := make([]domain.HistoryEntry, 0, len(turns)*2)
	for i := len(turns) - 1; i >= 0; i-- {
		history = append(history,
			domain.HistoryEntry{Role: "user", Text: turns[i].UserMessage},
			domain.HistoryEntry{Role: "model", Text: turns[i].BotResponse},
		)
	}
	return history, nil
}
