package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dontdude/judgebox/internal/dispatcher"
	"github.com/dontdude/judgebox/internal/metrics"
	"github.com/dontdude/judgebox/internal/platform/backend"
	"github.com/dontdude/judgebox/internal/platform/broadcast"
	"github.com/dontdude/judgebox/internal/platform/docker"
	"github.com/dontdude/judgebox/internal/platform/web"
)

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := dispatcher.LoadConfig(getenv("DISPATCHER_CONFIG", ".config/dispatcher.json"))
	cfg.BaseDir = getenv("SUBMISSION_DIR", cfg.BaseDir)
	cfg.HostDir = getenv("SUBMISSION_HOST_DIR", cfg.HostDir)
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		cfg.RedisAddr = redisAddr
	}

	backupDir := getenv("SUBMISSION_BACKUP_DIR", "submissions.bk")
	backendAPI := getenv("BACKEND_API", "http://web:8080")
	token := getenv("SANDBOX_TOKEN", "KoNoSandboxDa")

	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	runtime := docker.NewClient()
	broadcaster := broadcast.New(cfg.RedisAddr, cfg.BroadcastChannel)
	completion := backend.New(backendAPI, token, cfg.BaseDir, backupDir, broadcaster)

	dp := dispatcher.New(cfg, runtime, completion.Handle)
	dp.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	limiter := web.NewRateLimiter(4.0, 10.0)
	server := web.NewServer(cfg.BaseDir, token, dp)
	stream := web.NewStatusStream(ctx, dp, broadcaster, token)

	mux := http.NewServeMux()
	server.Routes(mux)
	mux.Handle("GET /status/stream", stream)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := limiter.RateLimitMiddleware(mux.ServeHTTP)

	httpServer := &http.Server{
		Addr:    getenv("LISTEN_ADDR", ":8080"),
		Handler: http.HandlerFunc(handler),
	}

	go func() {
		slog.Info("judging service starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	if err := dp.GracefulShutdown(shutdownCtx); err != nil {
		slog.Warn("dispatcher graceful shutdown did not complete in time", "error", err)
	}
	_ = broadcaster.Close()
	cancel()
}
