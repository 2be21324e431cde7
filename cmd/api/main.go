package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/flashtag/internal/api"
	"github.com/timmy/flashtag/internal/api/handler"
	"github.com/timmy/flashtag/internal/bootstrap"
	"github.com/timmy/flashtag/internal/config"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/service"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	appLogger := bootstrap.NewLogger(cfg, "flashtag-api")
	defer logger.Sync()

	ctx := context.Background()
	app, err := bootstrap.Build(ctx, cfg, appLogger, "flashtag-api")
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer app.Close()

	if cfg.VLM.APIKey == "" {
		appLogger.Warn("OPENAI_API_KEY is not set, webhook requests will fail")
	}

	// Search is only served when the Qdrant mirror is enabled.
	var searcher service.VectorSearcher
	var queryEmbedder service.QueryEmbedder
	if app.Qdrant != nil {
		searcher = app.Qdrant
		queryEmbedder = app.Embedder
	}
	search := service.NewSearchService(app.Images, app.Objects, searcher, queryEmbedder, &service.SearchConfig{
		SignedURLTTL: cfg.Storage.SignedURLTTL,
	})

	deps := &api.Dependencies{
		Logger:         appLogger,
		Metrics:        app.Metrics,
		Processor:      app.Pipeline,
		Gallery:        search,
		Reprocess:      app.Reprocessor(),
		DBPing:         app.PingDB,
		HasCredentials: cfg.VLM.APIKey != "",
	}
	if search.SearchEnabled() {
		deps.Search = search
	}

	var uploadProcessor handler.ImageProcessor
	if cfg.Pipeline.ProcessUploads {
		uploadProcessor = app.Pipeline
	}
	deps.Uploads = handler.NewUploadHandler(app.Objects, service.NewImageResizer(), uploadProcessor, int64(cfg.Server.MaxUploadMB)<<20)

	router := api.SetupRouter(cfg, deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Webhook pipelines can take a while; give them time to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
