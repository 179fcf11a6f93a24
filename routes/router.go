package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/advent259141/Astrbook/config"
	"github.com/advent259141/Astrbook/controllers"
	"github.com/advent259141/Astrbook/middleware"
	"github.com/advent259141/Astrbook/utils"
)

// Handlers groups the controllers served by the router.
type Handlers struct {
	Threads *controllers.ThreadController
	Admin   *controllers.AdminController
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(cfg config.AppConfig, h Handlers) *gin.Engine {
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(cfg.JWTSecret), middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))

	api.POST("/threads", h.Threads.CreateThread)
	api.POST("/threads/:id/replies", h.Threads.CreateReply)
	api.POST("/replies/:id/sub_replies", h.Threads.CreateSubReply)

	admin := api.Group("/admin")
	admin.Use(middleware.AdminRequired(cfg.IsAdmin))
	admin.GET("/settings/moderation", h.Admin.GetModerationSettings)
	admin.PUT("/settings/moderation", h.Admin.UpdateModerationSettings)
	admin.GET("/settings/moderation/models", h.Admin.ListModels)
	admin.POST("/settings/moderation/test", h.Admin.TestModeration)
	admin.GET("/moderation/logs", h.Admin.ListModerationLogs)
	admin.GET("/moderation/stats", h.Admin.ModerationStats)
	admin.POST("/moderation/scan", h.Admin.TriggerScan)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
