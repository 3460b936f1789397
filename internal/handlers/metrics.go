package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huangang/scamarena/backend/internal/metrics"
	"github.com/huangang/scamarena/backend/internal/services"
	"github.com/huangang/scamarena/backend/pkg/logger"
)

// Metrics refreshes the database-derived gauges and serves the default
// Prometheus registry.
func Metrics(store *services.Store, queue services.TaskQueue) gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		if counts, err := store.CountRoundsByStatus(c.Request.Context()); err == nil {
			metrics.SetRoundCounts(counts)
		} else {
			logger.Warnf("[Metrics] Failed to count rounds: %v", err)
		}
		metrics.SetQueueAsync(queue != nil && queue.IsAsync())
		h.ServeHTTP(c.Writer, c.Request)
	}
}
