package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// DocumentRepo persists knowledge documents and their processing status.
type DocumentRepo struct{ Pool PgxPool }

// NewDocumentRepo constructs a DocumentRepo with the given pool.
func NewDocumentRepo(p PgxPool) *DocumentRepo { return &DocumentRepo{Pool: p} }

// Create inserts a new document row in status pending and returns its id.
func (r *DocumentRepo) Create(ctx domain.Context, d domain.Document) (string, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Create")
	defer span.End()
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := d.Status
	if status == "" {
		status = domain.DocumentPending
	}
	q := `INSERT INTO documents (id, user_id, agent_id, file_name, storage_path, status, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, d.UserID, d.AgentID, d.FileName, d.StoragePath, status, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=documents.create: %w", err)
	}
	return id, nil
}

// ListForUser returns the user's documents, newest first.
func (r *DocumentRepo) ListForUser(ctx domain.Context, userID string) ([]domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.ListForUser")
	defer span.End()
	q := `SELECT id, user_id, agent_id, file_name, storage_path, status, created_at FROM documents WHERE user_id=$1 ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=documents.list_for_user: %w", err)
	}
	defer rows.Close()
	var out []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.UserID, &d.AgentID, &d.FileName, &d.StoragePath, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=documents.scan: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=documents.rows: %w", err)
	}
	return out, nil
}

// ClaimProcessing moves the document to processing unless it already
// completed. Redelivered entries for a completed document report false so
// the worker can skip re-ingestion instead of duplicating chunk rows.
func (r *DocumentRepo) ClaimProcessing(ctx domain.Context, id string) (bool, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.ClaimProcessing")
	defer span.End()
	q := `UPDATE documents SET status=$2 WHERE id=$1 AND status <> $3`
	tag, err := r.Pool.Exec(ctx, q, id, domain.DocumentProcessing, domain.DocumentCompleted)
	if err != nil {
		return false, fmt.Errorf("op=documents.claim_processing: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var status domain.DocumentStatus
	err = r.Pool.QueryRow(ctx, `SELECT status FROM documents WHERE id=$1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, fmt.Errorf("op=documents.claim_processing: %w", domain.ErrNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("op=documents.claim_processing: %w", err)
	}
	return false, nil
}

// UpdateStatus moves the document to the target status.
func (r *DocumentRepo) UpdateStatus(ctx domain.Context, id string, status domain.DocumentStatus) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.UpdateStatus")
	defer span.End()
	tag, err := r.Pool.Exec(ctx, `UPDATE documents SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return fmt.Errorf("op=documents.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=documents.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// Delete removes the document row; chunk rows cascade in SQL.
func (r *DocumentRepo) Delete(ctx domain.Context, id string) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Delete")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM documents WHERE id=$1`, id); err != nil {
		return fmt.Errorf("op=documents.delete: %w", err)
	}
	return nil
}
