package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liliang-cn/ragsession/internal/api/admin"
	"github.com/liliang-cn/ragsession/internal/api/middleware"
	"github.com/liliang-cn/ragsession/internal/api/training"
	"github.com/liliang-cn/ragsession/internal/service"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
}

// SetupRouter sets up the Gin router
func SetupRouter(
	adminService *service.AdminService,
	ingestService *service.IngestService,
	trainingService *service.TrainingService,
	cfg RouterConfig,
	logger *zap.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.Use(middleware.Auth(cfg.APIKey))
	if cfg.RateLimiter != nil {
		api.Use(cfg.RateLimiter.Middleware())
	}

	trainingHandler := training.NewHandler(trainingService, adminService)
	trainingHandler.RegisterRoutes(api)

	adminHandler := admin.NewHandler(adminService, ingestService)
	adminHandler.RegisterRoutes(api.Group("/admin"))

	return r
}
