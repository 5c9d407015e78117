package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/partharvest/api/handler"
	"github.com/use-agent/partharvest/api/middleware"
	"github.com/use-agent/partharvest/config"
)

// NewRouter creates the status API engine.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if keys are configured) → RateLimit
//
// Health stays outside auth so monitoring probes always work.
func NewRouter(src handler.ProgressSource, cfg config.StatusConfig, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(src, startTime))

	protected := v1.Group("")
	protected.Use(middleware.Auth(cfg.APIKeys))
	protected.Use(middleware.RateLimit(cfg.RequestsPerSecond, cfg.Burst))

	protected.GET("/progress", handler.Progress(src))

	return r
}
