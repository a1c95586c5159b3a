package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fieldrec/pitchside/internal/api"
	"github.com/fieldrec/pitchside/internal/cache"
	"github.com/fieldrec/pitchside/internal/config"
	"github.com/fieldrec/pitchside/internal/metrics"
	"github.com/fieldrec/pitchside/internal/server"
	syncengine "github.com/fieldrec/pitchside/internal/sync"
	"github.com/fieldrec/pitchside/internal/telemetry"
	"github.com/fieldrec/pitchside/internal/transcribe"
)

const version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("PITCHSIDE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	shutdownTracer, err := telemetry.InitTracer("pitchside", version, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	store, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		log.Fatalf("Failed to open cache at %s: %v", cfg.Cache.Path, err)
	}
	defer store.Close()

	// Traced outbound clients
	httpClient := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	backend := api.NewClient(cfg.Backend.BaseURL, api.WithHTTPClient(httpClient))
	transcriber := transcribe.NewClient(cfg.Transcribe.BaseURL,
		transcribe.WithHTTPClient(httpClient),
		transcribe.WithTimeout(time.Duration(cfg.Transcribe.TimeoutSeconds)*time.Second),
	)

	orchestrator := syncengine.New(store, backend, transcriber,
		syncengine.WithLogger(logger),
		syncengine.WithMetrics(m),
	)

	srv := server.New(cfg.Server.Port, logger, orchestrator, store, registry)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	logger.Info("pitchside started",
		slog.Int("port", cfg.Server.Port),
		slog.String("cache", cfg.Cache.Path),
		slog.String("backend", cfg.Backend.BaseURL),
		slog.String("transcriber", cfg.Transcribe.BaseURL),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("pitchside shutdown complete")
}
