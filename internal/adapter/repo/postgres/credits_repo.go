package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// CreditsRepo enforces the per-user message quota.
type CreditsRepo struct{ Pool PgxPool }

// NewCreditsRepo constructs a CreditsRepo with the given pool.
func NewCreditsRepo(p PgxPool) *CreditsRepo { return &CreditsRepo{Pool: p} }

// Consume atomically decrements one credit. The WHERE guard makes the check
// and the decrement a single statement, so concurrent ingress requests
// cannot overdraw. ErrQuotaExceeded when no credit is left or the user has
// no credit row.
func (r *CreditsRepo) Consume(ctx domain.Context, userID string) error {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Consume")
	defer span.End()
	q := `UPDATE user_credits SET credits = credits - 1 WHERE user_id=$1 AND credits > 0`
	tag, err := r.Pool.Exec(ctx, q, userID)
	if err != nil {
		return fmt.Errorf("op=credits.consume: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=credits.consume: %w", domain.ErrQuotaExceeded)
	}
	return nil
}

// Remaining returns the credit balance and plan name for billing info.
func (r *CreditsRepo) Remaining(ctx domain.Context, userID string) (int64, string, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Remaining")
	defer span.End()
	q := `SELECT credits, COALESCE(plan,'trial') FROM user_credits WHERE user_id=$1`
	var credits int64
	var plan string
	if err := r.Pool.QueryRow(ctx, q, userID).Scan(&credits, &plan); err != nil {
		if err == pgx.ErrNoRows {
			return 0, "", fmt.Errorf("op=credits.remaining: %w", domain.ErrNotFound)
		}
		return 0, "", fmt.Errorf("op=credits.remaining: %w", err)
	}
	return credits, plan, nil
}
