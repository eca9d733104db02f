package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/hivemindhq/hivemind-backend/internal/http/handlers"
	httpMW "github.com/hivemindhq/hivemind-backend/internal/http/middleware"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	AuthMiddleware *httpMW.AuthMiddleware

	IngestHandler   *httpH.IngestHandler
	SearchHandler   *httpH.SearchHandler
	DocumentHandler *httpH.DocumentHandler
	DigestHandler   *httpH.DigestHandler
	ReplayHandler   *httpH.ReplayHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.RequireServiceToken())
		}

		// Ingestion boundary
		if cfg.IngestHandler != nil {
			api.POST("/ingest/:source", cfg.IngestHandler.Ingest)
		}

		// Retrieval
		if cfg.SearchHandler != nil {
			api.GET("/search", cfg.SearchHandler.Search)
		}

		// Documents
		if cfg.DocumentHandler != nil {
			api.GET("/documents/:id", cfg.DocumentHandler.GetDocument)
			api.POST("/documents/:id/classify", cfg.DocumentHandler.Reclassify)
		}

		// Structured memory
		if cfg.DigestHandler != nil {
			api.GET("/digests", cfg.DigestHandler.ListDigests)
			api.GET("/digests/:id", cfg.DigestHandler.GetDigest)
		}

		// Replay and consistency
		if cfg.ReplayHandler != nil {
			api.POST("/replay", cfg.ReplayHandler.Replay)
			api.POST("/reconcile", cfg.ReplayHandler.Reconcile)
			api.GET("/checkpoints", cfg.ReplayHandler.ListCheckpoints)
			api.GET("/dead-letters", cfg.ReplayHandler.ListDeadLetters)
			api.POST("/dead-letters/:id/replay", cfg.ReplayHandler.ReplayDeadLetter)
		}
	}

	return r
}
