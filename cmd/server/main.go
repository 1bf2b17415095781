// Command server starts the pipeline HTTP API: message ingress, knowledge
// upload, agent management, billing, and the operator DLQ endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	blobminio "github.com/fairyhunter13/agent-pipeline/internal/adapter/blob/minio"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/httpserver"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/queue/redisstream"
	"github.com/fairyhunter13/agent-pipeline/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/agent-pipeline/internal/app"
	"github.com/fairyhunter13/agent-pipeline/internal/config"
	"github.com/fairyhunter13/agent-pipeline/internal/domain"
	"github.com/fairyhunter13/agent-pipeline/internal/usecase"
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

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	agentRepo := postgres.NewAgentRepo(pool)
	docRepo := postgres.NewDocumentRepo(pool)
	creditsRepo := postgres.NewCreditsRepo(pool)

	blob, err := blobminio.New(cfg)
	if err != nil {
		slog.Error("blob store connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	streams := redisstream.NewClient(cfg)
	defer func() { _ = streams.Close() }()

	if cfg.SeedFile != "" {
		if err := seedAgents(ctx, cfg.SeedFile, agentRepo); err != nil {
			slog.Error("agent seed failed", slog.Any("error", err), slog.String("file", cfg.SeedFile))
		}
	}

	knowledge := usecase.NewKnowledge(agentRepo, docRepo, blob, streams, redisstream.StreamNewDocument, cfg.MaxUploadMB<<20)

	srv := httpserver.NewServer(
		cfg, knowledge, agentRepo, docRepo, creditsRepo, streams,
		func(ctx domain.Context) error { return pool.Ping(ctx) },
		streams.Ping,
		blob.Healthy,
	)
	auth := httpserver.NewAuth(cfg.JWTSecret)
	limiter := httpserver.NewRateLimiter(streams.Redis(), cfg.RateLimitPerMin, cfg.RateLimitWindow)

	handler := app.BuildRouter(app.RouterDeps{
		Cfg:     cfg,
		Server:  srv,
		Admin:   httpserver.NewDLQAdmin(streams),
		Auth:    auth,
		Limiter: limiter,
	})

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		slog.Error("metrics server error", slog.Any("error", err))
	}
}
