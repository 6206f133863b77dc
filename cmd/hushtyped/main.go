package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/hushtype/hushtype/config"
	"github.com/hushtype/hushtype/internal/runtime"

	// Register speech backends via init().
	_ "github.com/hushtype/hushtype/internal/speech/backends/deepgram"
	_ "github.com/hushtype/hushtype/internal/speech/backends/parakeet"
	_ "github.com/hushtype/hushtype/internal/speech/backends/whisper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := runtime.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("hushtyped running",
		slog.String("backend", cfg.Backend),
		slog.String("cache_dir", cfg.CacheDir),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
