// Command dlqmonitor drains the dead-letter stream into the persistent
// failures list so quarantined entries survive stream trimming and stay
// visible to operators.
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

	"github.com/fairyhunter13/agent-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/healthbeat"
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

	streams := redisstream.NewClient(cfg)
	defer func() { _ = streams.Close() }()

	runner := redisstream.NewRunner(streams, redisstream.RunnerOptions{
		Stream:       redisstream.StreamDeadLetter,
		Group:        redisstream.GroupDLQMonitor,
		Consumer:     consumerName(cfg),
		Stage:        "dlq-monitor",
		Handler:      redisstream.MonitorHandler(streams),
		Beat:         healthbeat.New(cfg.HealthbeatFile),
		ReadCount:    cfg.ReadCount,
		BlockTimeout: cfg.BlockTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("dlq monitor starting", slog.String("consumer", consumerName(cfg)))
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("monitor stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func consumerName(cfg config.Config) string {
	if cfg.ConsumerName != "" {
		return cfg.ConsumerName
	}
	host, err := os.Hostname()
	if err != nil {
		return "dlqmonitor-1"
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
