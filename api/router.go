package api

import (
	"log/slog"

	"canvascast/config"
	"canvascast/logger"
	"canvascast/metrics"
	"canvascast/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm *task.Manager, cfg *config.Config, log *slog.Logger, m *metrics.Metrics) *gin.Engine {
	log = logger.OrDefault(log).With("component", "api")

	r := gin.New()
	r.Use(gin.Recovery(), logger.GinLogger(log), metrics.RequestMiddleware(m))
	h := NewHandler(tm, cfg, log)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg), RateLimitMiddleware(cfg.RateLimit, cfg.RateBurst))
	{
		// Polling contract
		v1.POST("/generate", h.handleGenerate)
		v1.GET("/status/:taskId", h.handleGetStatus)

		v1.GET("/tasks", h.handleListTasks)
		v1.PATCH("/tasks/:taskId/cancel", h.handleCancelTask)

		// File download endpoint (does not need auth if URLs are unguessable)
		// but we put it here for consistency.
		v1.GET("/files/:filename", h.handleGetFile)
	}
	return r
}
