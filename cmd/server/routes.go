package main

import (
	"github.com/gin-gonic/gin"

	"github.com/huangang/scamarena/backend/internal/handlers"
	"github.com/huangang/scamarena/backend/internal/middleware"
	"github.com/huangang/scamarena/backend/internal/utils"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices, corsOrigins []string) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.Use(middleware.CORS(corsOrigins))

	healthHandler := handlers.NewHealthHandler(svc.store, svc.taskQueue, svc.redis)
	r.GET("/health", healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics(svc.store, svc.taskQueue))

	// Checks its own token so EventSource clients can pass it as a query param.
	r.GET("/api/events/rounds", handlers.NewEventHandler(svc.events).StreamRounds)

	roundHandler := handlers.NewRoundHandler(svc.store, svc.runner)
	emailHandler := handlers.NewEmailHandler(svc.store)
	logHandler := handlers.NewLogHandler(svc.store)

	// Every authenticated caller can read.
	api := r.Group("/api")
	api.Use(middleware.AuthRequired(), middleware.AuditLog(svc.store))
	{
		api.GET("/rounds", roundHandler.List)
		api.GET("/rounds/:id", roundHandler.Get)
		api.GET("/rounds/:id/emails", roundHandler.Emails)
		api.GET("/rounds/:id/usage", roundHandler.Usage)
		api.GET("/emails/:id", emailHandler.Get)
		api.GET("/logs", logHandler.List)
	}

	// Starting rounds spends model credit, so it is admin only and rate limited.
	admin := api.Group("", middleware.RequireRole(utils.RoleAdmin))
	{
		admin.POST("/rounds", svc.limiter.Middleware(), roundHandler.Start)
	}

	reviewer := api.Group("", middleware.RequireRole(utils.RoleReviewer))
	{
		reviewer.POST("/emails/:id/override", emailHandler.Override)
	}
}
