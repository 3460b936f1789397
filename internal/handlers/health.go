package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/internal/services"
)

const healthTimeout = 2 * time.Second

// HealthHandler reports whether the database, and Redis when configured,
// answer.
type HealthHandler struct {
	store *services.Store
	queue services.TaskQueue
	redis *redis.Client
}

// NewHealthHandler takes a nil rdb when Redis is disabled.
func NewHealthHandler(store *services.Store, queue services.TaskQueue, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{store: store, queue: queue, redis: rdb}
}

func (h *HealthHandler) CheckHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	if sqlDB, err := h.store.DB().DB(); err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async"
	}

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "ok"
		if err := h.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "error: " + err.Error()
			// Rounds already queued wait for Redis; new ones can still start.
			if overall == "healthy" {
				overall = "degraded"
			}
		}
	}

	components := gin.H{
		"database":   dbStatus,
		"queue_mode": queueMode,
		"redis":      redisStatus,
	}
	if dbStatus == "ok" {
		if counts, err := h.store.CountRoundsByStatus(ctx); err == nil {
			components["rounds_running"] = counts[models.RoundRunning]
			components["rounds_pending"] = counts[models.RoundPending]
		}
	}

	c.JSON(status, gin.H{
		"status":     overall,
		"service":    "scamarena",
		"components": components,
	})
}
