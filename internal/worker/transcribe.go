// Package worker implements the stage handlers that run inside the
// consumer-group loops: transcription, embedding, and the chat turn.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/retry"
)

// AudioConverter renders a downloaded voice note into the WAV form the ASR
// model accepts. The production implementation shells out to ffmpeg.
type AudioConverter interface {
	ToWAV(ctx context.Context, src string) (string, error)
}

// Transcribe turns voice notes into text. Envelopes without media pass
// through unchanged with transcribed="false".
type Transcribe struct {
	blob      domain.BlobStore
	asr       domain.Transcriber
	converter AudioConverter
	publisher domain.Publisher
	outStream string
	language  string
	maxBytes  int64
	policy    config.RetryPolicy
}

// NewTranscribe wires the transcription stage handler.
func NewTranscribe(cfg config.Config, blob domain.BlobStore, asr domain.Transcriber, converter AudioConverter, publisher domain.Publisher) *Transcribe {
	return &Transcribe{
		blob:      blob,
		asr:       asr,
		converter: converter,
		publisher: publisher,
		outStream: redisstream.StreamTranscribedMessage,
		language:  cfg.ASRLanguage,
		maxBytes:  cfg.MaxUploadMB << 20,
		policy:    cfg.DefaultRetry(),
	}
}

// Handle processes one new_message entry.
func (t *Transcribe) Handle(ctx context.Context, e redisstream.Entry) error {
	lg := observability.LoggerFromContext(ctx)
	mediaKey := e.Fields[domain.FieldMediaKey]

	if mediaKey == "" {
		return t.republish(ctx, e.Fields, e.Fields[domain.FieldBody], "false")
	}

	// Size gate before the download; an oversized note is terminal.
	var size int64
	err := retry.Do(ctx, t.policy, func() error {
		var err error
		size, err = t.blob.Size(ctx, mediaKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("op=transcribe.Handle stat: %w", err)
	}
	if size > t.maxBytes {
		return fmt.Errorf("op=transcribe.Handle: %w: media %d bytes", domain.ErrPayloadTooLarge, size)
	}

	var srcPath string
	err = retry.Do(ctx, t.policy, func() error {
		var err error
		srcPath, err = t.blob.FetchToFile(ctx, mediaKey)
		return err
	})
	if err != nil {
		return fmt.Errorf("op=transcribe.Handle fetch: %w", err)
	}
	defer removeQuietly(lg, srcPath)

	wavPath, err := t.converter.ToWAV(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("op=transcribe.Handle convert: %w", err)
	}
	defer removeQuietly(lg, wavPath)

	// ASR runs once: the same input fails the same way, so retrying only
	// burns CPU.
	text, err := t.asr.Transcribe(ctx, wavPath, t.language)
	if err != nil {
		return fmt.Errorf("op=transcribe.Handle asr: %w", err)
	}
	text = strings.TrimSpace(text)
	lg.Info("voice note transcribed", slog.String("media_key", mediaKey), slog.Int("chars", len(text)))

	return t.republish(ctx, e.Fields, text, "true")
}

// republish forwards the envelope with the (possibly transcribed) body.
func (t *Transcribe) republish(ctx context.Context, fields map[string]string, body, transcribed string) error {
	out := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[domain.FieldBody] = body
	out[domain.FieldTranscribed] = transcribed

	// The stream client retries publishes under its own policy.
	if _, err := t.publisher.Publish(ctx, t.outStream, out); err != nil {
		return fmt.Errorf("op=transcribe.republish: %w", err)
	}
	return nil
}

func removeQuietly(lg *slog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		lg.Warn("temp file cleanup failed", slog.String("path", path), slog.Any("error", err))
	}
}
