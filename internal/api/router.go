package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/flashtag/internal/api/handler"
	"github.com/timmy/flashtag/internal/api/middleware"
	"github.com/timmy/flashtag/internal/config"
	"github.com/timmy/flashtag/internal/logger"
	"github.com/timmy/flashtag/internal/metrics"
)

// Dependencies are the handlers' collaborators. Search and Reprocess may be nil.
type Dependencies struct {
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	Processor handler.ImageProcessor
	Gallery   handler.Gallery
	Search    handler.Searcher
	Reprocess handler.BacklogRunner
	Uploads   *handler.UploadHandler
	DBPing    handler.Pinger

	HasCredentials bool
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg *config.Config, deps *Dependencies) *gin.Engine {
	switch cfg.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(cfg.Server.CORS))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
		r.GET(cfg.Metrics.Path, gin.WrapH(deps.Metrics.Handler()))
	}

	r.GET("/health", handler.NewHealthHandler(deps.DBPing).Health)

	webhookHandler := handler.NewWebhookHandler(deps.Processor, deps.HasCredentials)
	r.POST("/webhooks/image-upload", webhookHandler.ImageUploaded)

	if deps.Uploads != nil {
		r.POST("/upload", deps.Uploads.Upload)
	}

	api := r.Group("/api")
	{
		imageHandler := handler.NewImageHandler(deps.Gallery)
		api.GET("/images", imageHandler.ListImages)
		api.GET("/images/:id", imageHandler.GetImage)

		if deps.Search != nil {
			api.GET("/search", handler.NewSearchHandler(deps.Search).Search)
		}
	}

	if deps.Reprocess != nil {
		adminHandler := handler.NewAdminHandler(deps.Reprocess)
		admin := r.Group("/admin")
		admin.POST("/reprocess", adminHandler.TriggerReprocess)
		admin.GET("/reprocess", adminHandler.GetReprocessStatus)
	}

	return r
}
