package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/rag"
	"github.com/fairyhunter13/agent-pipeline/internal/retry"
)

// Embed ingests one knowledge document: acquire text, chunk, embed, persist.
// A document reaches completed only after every chunk row is durably stored.
type Embed struct {
	docs      domain.DocumentRepository
	chunks    domain.ChunkRepository
	blob      domain.BlobStore
	extractor domain.TextExtractor
	chunker   *rag.Chunker
	embedder  domain.EmbeddingModel

	fetchPolicy config.RetryPolicy
	embedPolicy config.RetryPolicy
}

// NewEmbed wires the embedding stage handler.
func NewEmbed(cfg config.Config, docs domain.DocumentRepository, chunks domain.ChunkRepository, blob domain.BlobStore, extractor domain.TextExtractor, chunker *rag.Chunker, embedder domain.EmbeddingModel) *Embed {
	return &Embed{
		docs:        docs,
		chunks:      chunks,
		blob:        blob,
		extractor:   extractor,
		chunker:     chunker,
		embedder:    embedder,
		fetchPolicy: cfg.DefaultRetry(),
		embedPolicy: cfg.EmbedRetry(),
	}
}

// Handle processes one new_document entry. On terminal failure the document
// is marked failed before the error bubbles up to the DLQ.
func (w *Embed) Handle(ctx context.Context, e redisstream.Entry) error {
	docID := e.Fields[domain.FieldDocumentID]
	if docID == "" {
		return fmt.Errorf("op=embed.Handle: %w: document_id missing", domain.ErrInvalidArgument)
	}
	lg := observability.LoggerFromContext(ctx).With(slog.String("document_id", docID))

	claimed, err := w.docs.ClaimProcessing(ctx, docID)
	if err != nil {
		return fmt.Errorf("op=embed.Handle: %w", err)
	}
	if !claimed {
		// Redelivery of an already completed document.
		lg.Info("document already embedded; skipping")
		return nil
	}

	if err := w.ingest(ctx, lg, docID, e.Fields); err != nil {
		if markErr := w.docs.UpdateStatus(ctx, docID, domain.DocumentFailed); markErr != nil {
			lg.Error("failed-status update failed", slog.Any("error", markErr))
		}
		return err
	}

	if err := w.docs.UpdateStatus(ctx, docID, domain.DocumentCompleted); err != nil {
		return fmt.Errorf("op=embed.Handle: %w", err)
	}
	lg.Info("document embedded")
	return nil
}

func (w *Embed) ingest(ctx context.Context, lg *slog.Logger, docID string, fields map[string]string) error {
	userID := fields[domain.FieldUserID]

	text, err := w.acquireText(ctx, lg, fields)
	if err != nil {
		return err
	}
	pieces := w.chunker.Split(text)
	if len(pieces) == 0 {
		lg.Info("document has no embeddable text")
		return nil
	}
	lg.Debug("document chunked", slog.Int("chunks", len(pieces)))

	var vectors [][]float32
	err = retry.Do(ctx, w.embedPolicy, func() error {
		var err error
		vectors, err = w.embedder.Embed(ctx, pieces)
		if errors.Is(err, domain.ErrInvalidArgument) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("op=embed.ingest embed: %w", err)
	}
	if len(vectors) != len(pieces) {
		return fmt.Errorf("op=embed.ingest: %w: %d vectors for %d chunks", domain.ErrInternal, len(vectors), len(pieces))
	}

	rows := make([]domain.DocumentChunk, len(pieces))
	for i, content := range pieces {
		rows[i] = domain.DocumentChunk{
			DocumentID: docID,
			UserID:     userID,
			Content:    content,
			Embedding:  vectors[i],
		}
	}
	// A retried ingestion may have left rows from a partial earlier run.
	if err := w.chunks.DeleteForDocument(ctx, docID); err != nil {
		return fmt.Errorf("op=embed.ingest clear: %w", err)
	}
	if err := w.chunks.InsertBatch(ctx, rows); err != nil {
		return fmt.Errorf("op=embed.ingest persist: %w", err)
	}
	return nil
}

// acquireText resolves the document body: the envelope may carry the text
// inline, otherwise the blob is fetched and decoded by extension.
func (w *Embed) acquireText(ctx context.Context, lg *slog.Logger, fields map[string]string) (string, error) {
	if inline := fields[domain.FieldText]; inline != "" {
		return inline, nil
	}
	storagePath := fields[domain.FieldStoragePath]
	if storagePath == "" {
		return "", fmt.Errorf("op=embed.acquireText: %w: neither text nor storage_path present", domain.ErrInvalidArgument)
	}

	var path string
	err := retry.Do(ctx, w.fetchPolicy, func() error {
		var err error
		path, err = w.blob.FetchToFile(ctx, storagePath)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("op=embed.acquireText fetch: %w", err)
	}
	defer removeQuietly(lg, path)

	switch strings.ToLower(filepath.Ext(storagePath)) {
	case ".pdf":
		text, err := w.extractor.ExtractPath(ctx, filepath.Base(storagePath), path)
		if err != nil {
			return "", fmt.Errorf("op=embed.acquireText extract: %w", err)
		}
		return text, nil
	case ".txt", ".md":
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("op=embed.acquireText read: %w", err)
		}
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("op=embed.acquireText: %w: not valid UTF-8", domain.ErrUnsupportedMedia)
		}
		return string(raw), nil
	default:
		return "", fmt.Errorf("op=embed.acquireText: %w: %s", domain.ErrUnsupportedMedia, filepath.Ext(storagePath))
	}
}
