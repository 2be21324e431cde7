package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/flashtag/internal/bootstrap"
	"github.com/timmy/flashtag/internal/config"
	"github.com/timmy/flashtag/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	workers := flag.Int("workers", 0, "Concurrent workers (0 uses config)")
	batch := flag.Int("limit", 0, "Maximum rows per pass (0 uses config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	if *workers > 0 {
		cfg.Pipeline.ReprocessWorkers = *workers
	}
	if *batch > 0 {
		cfg.Pipeline.ReprocessBatch = *batch
	}

	appLogger := bootstrap.NewLogger(cfg, "flashtag-reprocess")
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.SetJobID(appLogger.WithContext(ctx), "reprocess")

	app, err := bootstrap.Build(ctx, cfg, appLogger, "flashtag-reprocess")
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer app.Close()

	if cfg.VLM.APIKey == "" {
		appLogger.Fatal("OPENAI_API_KEY is required to reprocess images")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	appLogger.WithFields(logger.Fields{
		"workers": cfg.Pipeline.ReprocessWorkers,
		"limit":   cfg.Pipeline.ReprocessBatch,
	}).Info("Starting reprocess")

	stats, err := app.Reprocessor().Run(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Reprocess failed")
	}

	appLogger.WithFields(logger.Fields{
		"pending":    stats.Pending,
		"unembedded": stats.Unembedded,
		"analyzed":   stats.Analyzed,
		"embedded":   stats.Embedded,
		"failed":     stats.FailedItems,
	}).Info("Reprocess finished")
}
