package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/hallpass-api/internal/handler"
	"github.com/noah-isme/hallpass-api/internal/middleware"
	"github.com/noah-isme/hallpass-api/internal/service"
	"github.com/noah-isme/hallpass-api/pkg/config"
	"github.com/noah-isme/hallpass-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/hallpass-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/hallpass-api/pkg/middleware/requestid"
)

type routerDeps struct {
	metrics   *service.MetricsService
	tokens    *service.TokenService
	passes    *handler.PassHandler
	locations *handler.LocationHandler
	emergency *handler.EmergencyHandler
	realtime  *handler.RealtimeHandler
	health    *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	r.GET("/health", deps.health.Health)
	r.GET("/ready", deps.health.Ready)
	r.GET("/metrics", deps.health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.tokens))

	passes := api.Group("/passes")
	passes.POST("/request", deps.passes.Request)
	passes.GET("/active", deps.passes.Active)
	passes.GET("/history", deps.passes.History)
	passes.GET("/:id", deps.passes.Get)
	passes.POST("/:id/approve", deps.passes.Approve)
	passes.POST("/:id/deny", deps.passes.Deny)
	passes.POST("/:id/end", deps.passes.End)
	passes.POST("/:id/extend", deps.passes.Extend)

	staff := api.Group("")
	staff.Use(middleware.RequireStaff())
	staff.GET("/passes/hall-monitor", deps.passes.HallMonitor)
	staff.GET("/passes/overtime", deps.passes.Overtime)
	staff.GET("/locations/capacity-status", deps.locations.CapacityStatus)
	staff.GET("/emergency/alerts/:alertId/roll-call", deps.emergency.RollCall)
	staff.GET("/emergency/alerts/:alertId/roll-call/export", deps.emergency.ExportRollCall)

	api.GET("/realtime/ws", deps.realtime.Connect)

	return r
}
