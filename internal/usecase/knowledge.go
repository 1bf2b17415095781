package usecase

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/observability"
)

// AllowedUploadTypes are the content types the knowledge path accepts.
var AllowedUploadTypes = map[string]bool{
	"application/pdf": true,
	"text/plain":      true,
	"text/markdown":   true,
}

// Knowledge implements the document ingestion flow: store the blob, create
// the document row, enqueue the embedding job. Failures after the blob
// upload roll back with best-effort compensating deletes.
type Knowledge struct {
	agents    domain.AgentRepository
	docs      domain.DocumentRepository
	blob      domain.BlobStore
	publisher domain.Publisher
	stream    string
	maxBytes  int64
}

// NewKnowledge wires the upload flow. stream is the embedding input stream.
func NewKnowledge(agents domain.AgentRepository, docs domain.DocumentRepository, blob domain.BlobStore, publisher domain.Publisher, stream string, maxBytes int64) *Knowledge {
	return &Knowledge{agents: agents, docs: docs, blob: blob, publisher: publisher, stream: stream, maxBytes: maxBytes}
}

// Upload stores one document for the user and returns its id.
// ErrNotFound when the user has no agent; ErrUnsupportedMedia and
// ErrPayloadTooLarge on validation failure.
func (k *Knowledge) Upload(ctx domain.Context, userID, fileName, contentType string, data []byte) (string, error) {
	lg := observability.LoggerFromContext(ctx).With(slog.String("user_id", userID), slog.String("file_name", fileName))

	if !AllowedUploadTypes[contentType] {
		return "", fmt.Errorf("op=knowledge.Upload: %w: %s", domain.ErrUnsupportedMedia, contentType)
	}
	if int64(len(data)) > k.maxBytes {
		return "", fmt.Errorf("op=knowledge.Upload: %w: %d bytes", domain.ErrPayloadTooLarge, len(data))
	}

	agent, err := k.agents.FirstForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("op=knowledge.Upload: %w: no agent for user", domain.ErrNotFound)
		}
		return "", fmt.Errorf("op=knowledge.Upload: %w", err)
	}

	key := fmt.Sprintf("%s/%s-%s", userID, uuid.New().String(), fileName)
	if err := k.blob.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("op=knowledge.Upload: %w", err)
	}

	docID, err := k.docs.Create(ctx, domain.Document{
		UserID:      userID,
		AgentID:     agent.ID,
		FileName:    fileName,
		StoragePath: key,
		Status:      domain.DocumentPending,
	})
	if err != nil {
		k.compensate(ctx, lg, key, "")
		return "", fmt.Errorf("op=knowledge.Upload: %w", err)
	}

	_, err = k.publisher.Publish(ctx, k.stream, map[string]string{
		domain.FieldDocumentID:  docID,
		domain.FieldStoragePath: key,
		domain.FieldUserID:      userID,
	})
	if err != nil {
		k.compensate(ctx, lg, key, docID)
		return "", fmt.Errorf("op=knowledge.Upload: %w", err)
	}

	lg.Info("document accepted", slog.String("document_id", docID), slog.String("storage_path", key))
	return docID, nil
}

// compensate undoes the blob upload and the document row; each delete is
// best effort.
func (k *Knowledge) compensate(ctx domain.Context, lg *slog.Logger, key, docID string) {
	if err := k.blob.Delete(ctx, key); err != nil {
		lg.Error("compensating blob delete failed", slog.String("key", key), slog.Any("error", err))
	}
	if docID != "" {
		if err := k.docs.Delete(ctx, docID); err != nil {
			lg.Error("compensating document delete failed", slog.String("document_id", docID), slog.Any("error", err))
		}
	}
}
