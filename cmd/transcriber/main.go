// Command transcriber consumes gateway messages, converts voice notes to
// text, and forwards normalized envelopes to the transcribed stream.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	blobminio "github.com/fairyhunter13/agent-pipeline/internal/adapter/blob/minio"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/ai/whisper"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/media"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/healthbeat"
	"github.com/fairyhunter13/agent-pipeline/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("configuration invalid", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.ValidateProviders(config.CapASR); err != nil {
		slog.Error("configuration invalid", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()
	go serveMetrics(cfg.MetricsPort)

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	blob, err := blobminio.New(cfg)
	if err != nil {
		slog.Error("blob store connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	streams := redisstream.NewClient(cfg)
	defer func() { _ = streams.Close() }()

	handler := worker.NewTranscribe(cfg, blob, whisper.New(cfg), media.NewConverter(cfg.FFmpegPath), streams)

	runner := redisstream.NewRunner(streams, redisstream.RunnerOptions{
		Stream:       redisstream.StreamNewMessage,
		Group:        redisstream.GroupTranscriptionWorkers,
		Consumer:     consumerName(cfg),
		Stage:        "transcription-worker",
		Handler:      handler.Handle,
		DLQ:          redisstream.NewSink(streams),
		Beat:         healthbeat.New(cfg.HealthbeatFile),
		ReadCount:    cfg.ReadCount,
		BlockTimeout: cfg.BlockTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("transcription worker starting", slog.String("consumer", consumerName(cfg)))
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func consumerName(cfg config.Config) string {
	if cfg.ConsumerName != "" {
		return cfg.ConsumerName
	}
	host, err := os.Hostname()
	if err != nil {
		return "transcriber-1"
	}
	return host
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		slog.Error("metrics server error", slog.Any("error", err))
	}
}
