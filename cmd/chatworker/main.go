// Command chatworker consumes transcribed messages, routes them through the
// task router (RAG, analysis, extraction), and publishes the agent replies.
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

	"github.com/fairyhunter13/agent-pipeline/internal/adapter/ai/openai"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/healthbeat"
	"github.com/fairyhunter13/agent-pipeline/internal/usecase"
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
	if err := cfg.ValidateProviders(config.CapChat, config.CapAnalysis, config.CapExtraction, config.CapEmbedding); err != nil {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	streams := redisstream.NewClient(cfg)
	defer func() { _ = streams.Close() }()

	router := usecase.NewRouter(
		cfg,
		postgres.NewAgentRepo(pool),
		postgres.NewConversationRepo(pool),
		postgres.NewChunkRepo(pool),
		openai.NewChat(cfg),
		openai.NewAnalysis(cfg),
		openai.NewExtraction(cfg),
		openai.NewEmbedder(cfg),
	)
	handler := worker.NewChat(router, streams)

	runner := redisstream.NewRunner(streams, redisstream.RunnerOptions{
		Stream:       redisstream.StreamTranscribedMessage,
		Group:        redisstream.GroupMainAPI,
		Consumer:     consumerName(cfg),
		Stage:        "main-api",
		Handler:      handler.Handle,
		DLQ:          redisstream.NewSink(streams),
		Beat:         healthbeat.New(cfg.HealthbeatFile),
		ReadCount:    cfg.ReadCount,
		BlockTimeout: cfg.BlockTimeout,
	})

	slog.Info("chat worker starting", slog.String("consumer", consumerName(cfg)))
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
		return "chatworker-1"
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
