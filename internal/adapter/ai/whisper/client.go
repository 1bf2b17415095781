// Package whisper implements the transcriber port over an OpenAI-compatible
// /audio/transcriptions endpoint.
package whisper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	obs "github.com/fairyhunter13/agent-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// Client uploads audio files and returns their transcript text.
type Client struct {
	hc      *http.Client
	baseURL string
	apiKey  string
	model   string
}

// New returns an ASR client with a generous timeout; transcription of a
// 10 MB voice note can take a while.
func New(cfg config.Config) *Client {
	return &Client{
		hc:      &http.Client{Timeout: 120 * time.Second},
		baseURL: cfg.ASRBaseURL,
		apiKey:  cfg.ASRAPIKey,
		model:   cfg.ASRModel,
	}
}

// Transcribe sends the WAV file as multipart form data. A single attempt:
// ASR on the same input fails the same way, so the caller does not retry it.
func (c *Client) Transcribe(ctx domain.Context, wavPath, language string) (string, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return "", fmt.Errorf("op=whisper.Transcribe: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(wavPath))
	if err != nil {
		return "", fmt.Errorf("op=whisper.Transcribe: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("op=whisper.Transcribe: %w", err)
	}
	_ = mw.WriteField("model", c.model)
	if language != "" {
		_ = mw.WriteField("language", language)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("op=whisper.Transcribe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("op=whisper.Transcribe: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	start := time.Now()
	resp, err := c.hc.Do(req)
	obs.ObserveAIRequest("asr", "transcribe", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("op=whisper.Transcribe: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("op=whisper.Transcribe: %w: status %d: %s", domain.ErrInternal, resp.StatusCode, snippet)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("op=whisper.Transcribe: decode: %w", err)
	}
	return out.Text, nil
}
