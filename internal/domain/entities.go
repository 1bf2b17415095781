package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrUnsupportedMedia  = errors.New("unsupported media")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrInternal          = errors.New("internal error")
)

// Envelope field keys used on the pipeline streams. Stream entries are
// flat string maps; absent media is encoded as the empty string, not null.
const (
	FieldUserID      = "userId"
	FieldChatID      = "chatId"
	FieldTimestamp   = "timestamp"
	FieldBody        = "body"
	FieldMediaKey    = "mediaKey"
	FieldTranscribed = "transcribed"

	FieldDocumentID  = "document_id"
	FieldStoragePath = "storage_path"
	FieldText        = "text"

	FieldErrorService   = "error_service"
	FieldErrorTimestamp = "error_timestamp"
	FieldErrorDetails   = "error_details"
)

type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

// Document is a knowledge file owned by a user.
// Invariant: status only moves pending -> processing -> {completed|failed}.
type Document struct {
	ID          string
	UserID      string
	AgentID     string
	FileName    string
	StoragePath string
	Status      DocumentStatus
	CreatedAt   time.Time
}

// DocumentChunk is a bounded-token slice of a document; the unit of
// embedding and retrieval. Embedding length must match the active model.
type DocumentChunk struct {
	DocumentID string
	UserID     string
	Content    string
	Embedding  []float32
}

// ScoredChunk is a retrieval hit ordered by descending similarity.
type ScoredChunk struct {
	Content    string
	Similarity float64
}

type AgentStatus string

const (
	AgentActive AgentStatus = "active"
	AgentPaused AgentStatus = "paused"
)

// Agent holds the per-user agent configuration. When a user maps to
// several agents the first by creation time wins.
type Agent struct {
	ID         string
	UserID     string
	Name       string
	BasePrompt string
	Guardrails string
	Status     AgentStatus
	Config     map[string]any
	CreatedAt  time.Time
}

// ConversationTurn is one logged user/bot exchange.
type ConversationTurn struct {
	AgentID     string
	UserID      string
	UserMessage string
	BotResponse string
	CreatedAt   time.Time
}

// HistoryEntry is a flattened turn part handed to model clients.
// Role is "user" or "model"; entries alternate in chronological order.
type HistoryEntry struct {
	Role string
	Text string
}

// DLQItem is an operator-visible persistent failure: the stream entry id
// and the full envelope at the time of failure.
type DLQItem struct {
	MessageID string            `json:"message_id"`
	Data      map[string]string `json:"data"`
}

// Repositories (ports)

type AgentRepository interface {
	FirstForUser(ctx Context, userID string) (Agent, error)
	ListForUser(ctx Context, userID string) ([]Agent, error)
	ListAll(ctx Context) ([]Agent, error)
	Upsert(ctx Context, a Agent) (Agent, error)
	UpdateStatus(ctx Context, agentID string, status AgentStatus) error
}

type DocumentRepository interface {
	Create(ctx Context, d Document) (string, error)
	ListForUser(ctx Context, userID string) ([]Document, error)
	// ClaimProcessing moves the document to processing; false means it is
	// already completed and a redelivered entry should be skipped.
	ClaimProcessing(ctx Context, id string) (bool, error)
	UpdateStatus(ctx Context, id string, status DocumentStatus) error
	Delete(ctx Context, id string) error
}

type ChunkRepository interface {
	// InsertBatch stores all chunk rows of one document in a single batch.
	InsertBatch(ctx Context, chunks []DocumentChunk) error
	// DeleteForDocument clears a document's chunk rows before re-ingestion.
	DeleteForDocument(ctx Context, documentID string) error
	// Search runs the match_document_chunks similarity function and returns
	// hits in descending similarity order.
	Search(ctx Context, userID string, embedding []float32, threshold float64, count int) ([]ScoredChunk, error)
}

type ConversationRepository interface {
	Log(ctx Context, t ConversationTurn) error
	// History returns the most recent limit turns in chronological order,
	// flattened into alternating user/model entries.
	History(ctx Context, agentID, userID string, limit int) ([]HistoryEntry, error)
}

type CreditsRepository interface {
	// Consume atomically decrements one credit; ErrQuotaExceeded when none left.
	Consume(ctx Context, userID string) error
	Remaining(ctx Context, userID string) (int64, string, error)
}

// BlobStore (port) abstracts the S3-compatible object store.

type BlobStore interface {
	Put(ctx Context, key string, data []byte, contentType string) error
	Get(ctx Context, key string) ([]byte, error)
	// FetchToFile downloads the object to a temp file and returns its path.
	FetchToFile(ctx Context, key string) (string, error)
	Size(ctx Context, key string) (int64, error)
	Delete(ctx Context, key string) error
}

// Model capabilities (ports). Four narrow interfaces, one method each;
// concrete provider adapters are data, not inheritance.

type ChatModel interface {
	Respond(ctx Context, prompt string, history []HistoryEntry) (string, error)
}

type AnalysisModel interface {
	Analyze(ctx Context, prompt string, history []HistoryEntry) (string, error)
}

type ExtractionModel interface {
	Extract(ctx Context, prompt string, history []HistoryEntry) (string, error)
}

type EmbeddingModel interface {
	Embed(ctx Context, texts []string) ([][]float32, error)
}

// Transcriber (port) converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx Context, wavPath, language string) (string, error)
}

// TextExtractor (port) extracts plain text from a stored document file.
type TextExtractor interface {
	ExtractPath(ctx Context, fileName, path string) (string, error)
}

// Publisher (port) appends an envelope to a named stream.
type Publisher interface {
	Publish(ctx Context, stream string, fields map[string]string) (string, error)
}

// Context is an alias so the domain package stays decoupled from call sites;
// adapters and usecases pass context.Context straight through.
type Context = context.Context
