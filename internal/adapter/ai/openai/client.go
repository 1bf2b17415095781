// Package openai implements the model ports over any OpenAI-compatible
// chat-completions and embeddings HTTP API.
//
// Clients make a single attempt per call and map provider failures onto the
// domain error taxonomy; the calling worker decides which failures to retry
// and with which schedule.
package openai

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	obs "github.com/fairyhunter13/agent-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/observability"
)

// Client speaks the chat-completions endpoint of one provider.
type Client struct {
	hc       *http.Client
	baseURL  string
	apiKey   string
	model    string
	provider string
	// temperature is sent when non-nil (extraction pins it to 0).
	temperature *float64
}

// NewChat returns the general conversation model client.
func NewChat(cfg config.Config) *Client {
	return &Client{
		hc:       &http.Client{Timeout: 60 * time.Second},
		baseURL:  cfg.ChatBaseURL,
		apiKey:   cfg.ChatAPIKey,
		model:    cfg.ChatModel,
		provider: "chat",
	}
}

// NewAnalysis returns the reasoning-oriented model client.
func NewAnalysis(cfg config.Config) *Client {
	return &Client{
		hc:       &http.Client{Timeout: 120 * time.Second},
		baseURL:  cfg.AnalysisBaseURL,
		apiKey:   cfg.AnalysisAPIKey,
		model:    cfg.AnalysisModel,
		provider: "analysis",
	}
}

// NewExtraction returns the structured-output model client, temperature 0.
func NewExtraction(cfg config.Config) *Client {
	zero := 0.0
	return &Client{
		hc:          &http.Client{Timeout: 60 * time.Second},
		baseURL:     cfg.AnalysisBaseURL,
		apiKey:      cfg.AnalysisAPIKey,
		model:       cfg.ExtractionModel,
		provider:    "extraction",
		temperature: &zero,
	}
}

// Respond implements domain.ChatModel.
func (c *Client) Respond(ctx domain.Context, prompt string, history []domain.HistoryEntry) (string, error) {
	return c.complete(ctx, prompt, history)
}

// Analyze implements domain.AnalysisModel.
func (c *Client) Analyze(ctx domain.Context, prompt string, history []domain.HistoryEntry) (string, error) {
	return c.complete(ctx, prompt, history)
}

// Extract implements domain.ExtractionModel.
func (c *Client) Extract(ctx domain.Context, prompt string, history []domain.HistoryEntry) (string, error) {
	return c.complete(ctx, prompt, history)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *Client) complete(ctx domain.Context, prompt string, history []domain.HistoryEntry) (string, error) {
	if c.apiKey == "" || c.model == "" {
		return "", fmt.Errorf("op=openai.complete provider=%s: %w: api key or model missing", c.provider, domain.ErrInvalidArgument)
	}
	messages := make([]chatMessage, 0, len(history)+1)
	for _, h := range history {
		role := "user"
		if h.Role == "model" {
			role = "assistant"
		}
		messages = append(messages, chatMessage{Role: role, Content: h.Text})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body := map[string]any{
		"model":    c.model,
		"messages": messages,
	}
	if c.temperature != nil {
		body["temperature"] = *c.temperature
	}
	b, _ := json.Marshal(body)

	start := time.Now()
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	err := c.doJSON(ctx, c.baseURL+"/chat/completions", b, &out)
	obs.ObserveAIRequest(c.provider, "complete", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("op=openai.complete provider=%s: %w", c.provider, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("op=openai.complete provider=%s: %w: empty choices", c.provider, domain.ErrInternal)
	}
	return out.Choices[0].Message.Content, nil
}

// Embedder speaks the embeddings endpoint.
type Embedder struct {
	hc         *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
}

// NewEmbedder returns the embedding model client used both for document
// ingestion and for query embedding at chat time.
func NewEmbedder(cfg config.Config) *Embedder {
	return &Embedder{
		hc:         &http.Client{Timeout: 30 * time.Second},
		baseURL:    cfg.OpenAIBaseURL,
		apiKey:     cfg.OpenAIAPIKey,
		model:      cfg.EmbeddingsModel,
		dimensions: cfg.EmbeddingDimensions,
	}
}

// Embed implements domain.EmbeddingModel with a single batched request.
// Every returned vector must match the configured dimension; a mismatch is
// terminal because the chunk column cannot store it.
func (e *Embedder) Embed(ctx domain.Context, texts []string) ([][]float32, error) {
	if e.apiKey == "" || e.model == "" {
		return nil, fmt.Errorf("op=openai.Embed: %w: api key or model missing", domain.ErrInvalidArgument)
	}
	body := map[string]any{
		"model": e.model,
		"input": texts,
	}
	b, _ := json.Marshal(body)

	start := time.Now()
	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	err := (&Client{hc: e.hc, apiKey: e.apiKey, provider: "embeddings"}).doJSON(ctx, e.baseURL+"/embeddings", b, &out)
	obs.ObserveAIRequest("embeddings", "embed", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("op=openai.Embed: %w", err)
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("op=openai.Embed: %w: got %d vectors for %d inputs", domain.ErrInternal, len(out.Data), len(texts))
	}
	vectors := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("op=openai.Embed: %w: vector length %d, want %d", domain.ErrInvalidArgument, len(d.Embedding), e.dimensions)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// doJSON posts b and decodes the response, mapping provider failures onto
// the domain taxonomy: 429 → ErrUpstreamRateLimit (retriable), timeouts →
// ErrUpstreamTimeout (retriable), other 4xx → ErrInvalidArgument (terminal),
// 5xx → ErrInternal (retriable).
func (c *Client) doJSON(ctx domain.Context, url string, b []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		var nerr interface{ Timeout() bool }
		if errors.As(err, &nerr) && nerr.Timeout() {
			return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
		}
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	lg := observability.LoggerFromContext(ctx)
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		lg.Warn("ai provider rate limited", slog.String("provider", c.provider), slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status 429", domain.ErrUpstreamRateLimit)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		snippet := readSnippet(resp.Body, 512)
		lg.Warn("ai provider 4xx", slog.String("provider", c.provider), slog.Int("status", resp.StatusCode), slog.String("body", snippet))
		return fmt.Errorf("%w: status %d: %s", domain.ErrInvalidArgument, resp.StatusCode, snippet)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet := readSnippet(resp.Body, 512)
		lg.Error("ai provider non-2xx", slog.String("provider", c.provider), slog.Int("status", resp.StatusCode), slog.String("body", snippet))
		return fmt.Errorf("%w: status %d", domain.ErrInternal, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// readSnippet reads up to n bytes from r for log context.
func readSnippet(r io.Reader, n int) string {
	buf, _ := io.ReadAll(io.LimitReader(r, int64(n)))
	return string(buf)
}
