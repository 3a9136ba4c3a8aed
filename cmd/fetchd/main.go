package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fetchkit/fetchd/internal/config"
	"github.com/fetchkit/fetchd/internal/engine"
	"github.com/fetchkit/fetchd/internal/fs"
	"github.com/fetchkit/fetchd/internal/history"
	"github.com/fetchkit/fetchd/internal/logger"
	"github.com/fetchkit/fetchd/internal/manager"
	"github.com/fetchkit/fetchd/internal/server"
	"github.com/fetchkit/fetchd/internal/store"
	"go.uber.org/zap"
)

const version = "0.1.0"

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting fetchd",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	// Resolve the download directory
	downloadDir := cfg.Download.Dir
	if downloadDir == "" {
		downloadDir = fs.DefaultDownloadDir()
	}
	if err := fs.EnsureDir(downloadDir); err != nil {
		zapLogger.Fatal("failed to create download directory",
			zap.Error(err), zap.String("dir", downloadDir))
	}

	// Open the history database and restore the previous task list
	historyPath := cfg.History.Path
	if historyPath == "" {
		historyPath = filepath.Join(downloadDir, "history.db")
	}

	historyStore, err := history.Open(historyPath)
	if err != nil {
		zapLogger.Fatal("failed to open history database",
			zap.Error(err), zap.String("path", historyPath))
	}
	defer historyStore.Close()

	restored, err := historyStore.Load()
	if err != nil {
		zapLogger.Fatal("failed to load task history", zap.Error(err))
	}
	tasks := store.NewFromTasks(restored)
	if len(restored) > 0 {
		zapLogger.Info("restored task history", zap.Int("tasks", len(restored)))
	}

	// Create download engine and manager
	engineCfg := &engine.Config{
		ChunkCount:       cfg.Download.ChunkCount,
		ProgressInterval: cfg.Download.GetProgressUpdateInterval(),
		MaxRetries:       cfg.Download.MaxRetries,
		RetryBackoff:     cfg.Download.GetRetryBackoff(),
		RequestTimeout:   cfg.Download.GetRequestTimeout(),
		RateLimit:        cfg.Download.GetRateLimit(),
	}
	downloadEngine := engine.New(engineCfg, tasks, zapLogger)
	downloadManager := manager.New(tasks, downloadEngine, zapLogger, downloadDir)

	// Create history flusher
	flusherCfg := &history.Config{
		SaveInterval: cfg.History.GetSaveInterval(),
	}
	flusher := history.NewFlusher(flusherCfg, historyStore, tasks, zapLogger)

	// Create HTTP server
	httpServer := server.NewServer(&cfg.HTTP, downloadManager, historyStore, downloadDir)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start HTTP server
	go func() {
		if err := httpServer.Start(); err != nil {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Start history flusher
	go func() {
		if err := flusher.Start(ctx); err != nil && err != context.Canceled {
			zapLogger.Error("history flusher stopped with error", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	zapLogger.Info("application started successfully",
		zap.String("http_addr", cfg.HTTP.BindAddr),
		zap.String("download_dir", downloadDir),
	)
	<-sigChan

	zapLogger.Info("shutdown signal received, stopping services...")

	// Cancel active runs first so their final statuses make it into the
	// last history snapshot.
	downloadManager.Shutdown()
	flusher.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		zapLogger.Error("failed to stop HTTP server gracefully", zap.Error(err))
	}

	zapLogger.Info("application stopped successfully")
}
