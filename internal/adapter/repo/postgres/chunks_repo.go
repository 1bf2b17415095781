package postgres

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// ChunkRepo stores embedded document chunks and runs similarity retrieval.
type ChunkRepo struct{ Pool PgxPool }

// NewChunkRepo constructs a ChunkRepo with the given pool.
func NewChunkRepo(p PgxPool) *ChunkRepo { return &ChunkRepo{Pool: p} }

// InsertBatch stores every chunk row of one document in a single pgx batch.
// A document reaches completed only after this returns nil.
func (r *ChunkRepo) InsertBatch(ctx domain.Context, chunks []domain.DocumentChunk) error {
	tracer := otel.Tracer("repo.chunks")
	ctx, span := tracer.Start(ctx, "chunks.InsertBatch")
	defer span.End()
	if len(chunks) == 0 {
		return nil
	}
	q := `INSERT INTO document_chunks (id, document_id, user_id, content, embedding, created_at) VALUES ($1,$2,$3,$4,$5::vector,$6)`
	b := &pgx.Batch{}
	now := time.Now().UTC()
	for _, c := range chunks {
		b.Queue(q, uuid.New().String(), c.DocumentID, c.UserID, c.Content, vectorLiteral(c.Embedding), now)
	}
	br := r.Pool.SendBatch(ctx, b)
	defer func() { _ = br.Close() }()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("op=chunks.insert_batch: %w", err)
		}
	}
	return nil
}

// DeleteForDocument removes every chunk row of one document. Run before a
// re-ingestion so a retried document ends with exactly one row per window.
func (r *ChunkRepo) DeleteForDocument(ctx domain.Context, documentID string) error {
	tracer := otel.Tracer("repo.chunks")
	ctx, span := tracer.Start(ctx, "chunks.DeleteForDocument")
	defer span.End()
	if _, err := r.Pool.Exec(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("op=chunks.delete_for_document: %w", err)
	}
	return nil
}

// Search runs the match_document_chunks function and returns hits in
// descending similarity order.
func (r *ChunkRepo) Search(ctx domain.Context, userID string, embedding []float32, threshold float64, count int) ([]domain.ScoredChunk, error) {
	tracer := otel.Tracer("repo.chunks")
	ctx, span := tracer.Start(ctx, "chunks.Search")
	defer span.End()
	q := `SELECT content, similarity FROM match_document_chunks($1, $2::vector, $3, $4)`
	rows, err := r.Pool.Query(ctx, q, userID, vectorLiteral(embedding), threshold, count)
	if err != nil {
		return nil, fmt.Errorf("op=chunks.search: %w", err)
	}
	defer rows.Close()
	var out []domain.ScoredChunk
	for rows.Next() {
		var c domain.ScoredChunk
		if err := rows.Scan(&c.Content, &c.Similarity); err != nil {
			return nil, fmt.Errorf("op=chunks.scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=chunks.rows: %w", err)
	}
	return out, nil
}

// vectorLiteral renders an embedding as a pgvector input literal: [x,y,z].
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
