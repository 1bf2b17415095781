// Package media converts voice-note containers into a form the ASR model
// accepts. Conversion shells out to ffmpeg; decoding OGG/Opus in-process is
// not an option here.
package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fairyhunter13/agent-pipeline/internal/domain"
)

// Converter turns downloaded audio files into 16 kHz mono WAV.
type Converter struct {
	ffmpegPath string
}

// NewConverter uses the configured ffmpeg binary (default "ffmpeg" on PATH).
func NewConverter(ffmpegPath string) *Converter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Converter{ffmpegPath: ffmpegPath}
}

// ToWAV converts src to a temp WAV file and returns its path. The caller
// removes the file. An input ffmpeg cannot decode is a terminal error.
func (c *Converter) ToWAV(ctx context.Context, src string) (string, error) {
	out, err := os.CreateTemp("", "audio-*.wav")
	if err != nil {
		return "", fmt.Errorf("op=media.ToWAV: %w", err)
	}
	outPath := out.Name()
	_ = out.Close()

	cmd := exec.CommandContext(ctx, c.ffmpegPath,
		"-y",
		"-i", src,
		"-ar", "16000",
		"-ac", "1",
		"-f", "wav",
		outPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("op=media.ToWAV: %w: %v: %s", domain.ErrUnsupportedMedia, err, tail(stderr.String(), 300))
	}
	return outPath, nil
}

// tail keeps the last n bytes of ffmpeg's stderr, where the actual error is.
func tail(s string, n int) string {
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-n:])
}
