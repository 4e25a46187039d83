package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/antiphon/internal/analysis"
	"github.com/MikeSquared-Agency/antiphon/internal/api"
	"github.com/MikeSquared-Agency/antiphon/internal/config"
	"github.com/MikeSquared-Agency/antiphon/internal/fingerprint"
	"github.com/MikeSquared-Agency/antiphon/internal/hermes"
	"github.com/MikeSquared-Agency/antiphon/internal/isolation"
	"github.com/MikeSquared-Agency/antiphon/internal/pitch"
	"github.com/MikeSquared-Agency/antiphon/internal/processor"
	"github.com/MikeSquared-Agency/antiphon/internal/session"
	"github.com/MikeSquared-Agency/antiphon/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("antiphon starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// Pitch estimation, optionally behind the contour cache
	params := pitch.DefaultParams()
	params.FMin = cfg.PitchFMin
	params.FMax = cfg.PitchFMax
	estimator, err := pitch.NewEstimator(params)
	if err != nil {
		slog.Error("invalid pitch parameters", "error", err)
		os.Exit(1)
	}
	var provider pitch.Provider = estimator
	if cfg.ContourCacheDir != "" {
		cache, err := pitch.OpenCache(cfg.ContourCacheDir, estimator, slog.Default())
		if err != nil {
			slog.Error("failed to open contour cache", "dir", cfg.ContourCacheDir, "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		provider = cache
		slog.Info("contour cache ready", "dir", cfg.ContourCacheDir)
	}

	// Vocal isolation (optional, audio is treated as vocals without it)
	var isolator analysis.Isolator = isolation.Passthrough{}
	if cfg.IsolationURL != "" {
		isolator = isolation.NewClient(cfg.IsolationURL, cfg.IsolationToken)
		slog.Info("vocal isolation enabled", "url", cfg.IsolationURL)
	} else {
		slog.Warn("ISOLATION_URL not set, uploaded audio is treated as isolated vocals")
	}

	// NATS/Hermes
	hermesClient, err := hermes.Connect(cfg.NatsURL, slog.Default(), hermes.WithToken(cfg.NatsToken))
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	fpOpts := fingerprint.DefaultOptions()
	fpOpts.Threshold = cfg.FingerprintThreshold
	runner := analysis.NewRunner(analysis.Config{
		Timeout:     cfg.AnalysisTimeout,
		Fingerprint: fpOpts,
	}, isolator, provider, hermesClient, slog.Default())

	sessions := session.NewManager(db, slog.Default())

	proc := processor.New(sessions, runner, slog.Default())
	if err := hermesClient.QueueSubscribe(hermes.SubjectAnalysisRequested, hermes.QueueAnalysis, proc.HandleAnalysisRequested); err != nil {
		slog.Error("failed to subscribe to analysis requests", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, sessions, runner)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish(hermes.SubjectRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("antiphon ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	runner.Shutdown(shutdownCtx)
	cancel()
	slog.Info("antiphon stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
