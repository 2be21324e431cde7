package bootstrap

import (
	"context"
	"fmt"

	"github.com/timmy/flashtag/internal/analysis"
	"github.com/timmy/flashtag/internal/config"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/metrics"
	"github.com/timmy/flashtag/internal/repository"
	"github.com/timmy/flashtag/internal/service"
	"github.com/timmy/flashtag/internal/storage"
	"gorm.io/gorm"
)

// App holds the components shared by the server and the reprocess job.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
	DB       *gorm.DB
	Images   *repository.ImageRepository
	Objects  storage.ObjectStorage
	Qdrant   *repository.QdrantRepository
	Schema   *analysis.Schema
	Embedder *service.EmbeddingService
	Analyzer *service.Analyzer
	Pipeline *service.Pipeline
}

// NewLogger builds the process logger from configuration and makes it the default.
func NewLogger(cfg *config.Config, serviceName string) *logger.Logger {
	l := logger.New(&logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: serviceName,
		Environment: cfg.Logging.Environment,
		File:        cfg.Logging.File,
		FileOnly:    cfg.Logging.FileOnly,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
		MaxAgeDays:  cfg.Logging.MaxAgeDays,
		Compress:    cfg.Logging.Compress,
	})
	logger.SetDefaultLogger(l)
	return l
}

// Build connects storage, database and model clients and assembles the pipeline.
// Parameters:
//   - ctx: context for startup calls such as bucket and collection checks.
//   - cfg: loaded configuration.
//   - log: process logger.
//   - serviceName: label for metrics.
//
// Returns:
//   - *App: wired components; call Close when done.
//   - error: non-nil if any dependency cannot be initialized.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger, serviceName string) (*App, error) {
	if err := cfg.Embedding.Validate(); err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Logger: log,
		Schema: analysis.FlashcardSchema(),
	}
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.New(serviceName)
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db
	app.Images = repository.NewImageRepository(db)

	objects, err := storage.NewStorage(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if ensurer, ok := objects.(storage.BucketEnsurer); ok {
		if err := ensurer.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
	}
	app.Objects = objects

	if cfg.Qdrant.Enabled {
		qdrant, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
			Host:            cfg.Qdrant.Host,
			Port:            cfg.Qdrant.Port,
			Collection:      cfg.Qdrant.Collection,
			APIKey:          cfg.Qdrant.APIKey,
			UseTLS:          cfg.Qdrant.UseTLS,
			VectorDimension: cfg.Embedding.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Qdrant repository: %w", err)
		}
		if err := qdrant.EnsureCollection(ctx); err != nil {
			_ = qdrant.Close()
			return nil, fmt.Errorf("failed to ensure Qdrant collection: %w", err)
		}
		app.Qdrant = qdrant
	}

	app.Embedder = service.NewEmbeddingService(&service.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})

	vlm := service.NewVLMService(&service.VLMConfig{
		APIKey:  cfg.VLM.APIKey,
		BaseURL: cfg.VLM.BaseURL,
		Timeout: cfg.VLM.Timeout,
	})
	app.Analyzer = service.NewAnalyzer(vlm, app.Schema, service.AnalyzerConfig{
		Primary:             service.ModelTier{Model: cfg.Analysis.PrimaryModel, MaxTokens: cfg.Analysis.PrimaryMaxTokens},
		Fallback:            service.ModelTier{Model: cfg.Analysis.FallbackModel, MaxTokens: cfg.Analysis.FallbackMaxTokens},
		ConfidenceThreshold: cfg.Analysis.ConfidenceThreshold,
	})

	pipelineCfg := service.DefaultPipelineConfig()
	pipelineCfg.RenameAttempts = cfg.Pipeline.RenameAttempts
	pipelineCfg.RenameBaseDelay = cfg.Pipeline.RenameBaseDelay
	pipelineCfg.JitterMin = cfg.Pipeline.JitterMin
	pipelineCfg.JitterMax = cfg.Pipeline.JitterMax
	pipelineCfg.SettleDelay = cfg.Pipeline.SettleDelay
	pipelineCfg.ProbeTimeout = cfg.Pipeline.ProbeTimeout

	opts := []service.PipelineOption{
		service.WithLogger(log),
		service.WithMetrics(app.Metrics),
	}
	if app.Qdrant != nil {
		opts = append(opts, service.WithVectorIndex(app.Qdrant))
	}
	app.Pipeline = service.NewPipeline(app.Images, objects, app.Analyzer, app.Embedder, app.Schema, pipelineCfg, opts...)

	return app, nil
}

// VectorIndex returns the Qdrant mirror as an interface value, nil when disabled.
func (a *App) VectorIndex() service.VectorIndex {
	if a.Qdrant == nil {
		return nil
	}
	return a.Qdrant
}

// Reprocessor builds the backlog job from the shared components.
func (a *App) Reprocessor() *service.Reprocessor {
	return service.NewReprocessor(
		a.Images,
		a.Pipeline,
		a.Embedder,
		a.Schema,
		a.VectorIndex(),
		a.Logger,
		&service.ReprocessConfig{
			Workers:      a.Config.Pipeline.ReprocessWorkers,
			Batch:        a.Config.Pipeline.ReprocessBatch,
			PendingGrace: a.Config.Pipeline.ReprocessPendingGrace,
		},
	)
}

// PingDB checks the database connection.
func (a *App) PingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases connections.
func (a *App) Close() {
	if a.Qdrant != nil {
		if err := a.Qdrant.Close(); err != nil {
			a.Logger.WithError(err).Warn("Failed to close Qdrant connection")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
