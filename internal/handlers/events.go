package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/internal/services"
	"github.com/huangang/scamarena/backend/internal/utils"
	"github.com/huangang/scamarena/backend/pkg/logger"
	"github.com/huangang/scamarena/backend/pkg/response"
)

// EventHandler streams round progress as Server-Sent Events.
type EventHandler struct {
	hub *services.EventHub
}

func NewEventHandler(hub *services.EventHub) *EventHandler {
	return &EventHandler{hub: hub}
}

// StreamRounds authenticates on its own because browsers' EventSource cannot
// set headers: the token may come as ?token=. With ?round_id= only that
// round is streamed and the stream ends when it finishes.
func (h *EventHandler) StreamRounds(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		response.Error(c, response.NewUnauthorized("token required"))
		return
	}
	if _, err := utils.ParseToken(token); err != nil {
		response.Error(c, response.NewUnauthorized("invalid or expired token"))
		return
	}

	var only uint
	if raw := c.Query("round_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			response.Error(c, response.NewBadRequest("invalid round_id"))
			return
		}
		only = uint(id)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := uuid.NewString()
	events := h.hub.Subscribe(clientID)
	defer h.hub.Unsubscribe(clientID)

	logger.Info().Str("client_id", clientID).Int("total", h.hub.ClientCount()).Msg("Event stream connected")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			if only != 0 && event.RoundID != only {
				return true
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("Event marshal error")
				return true
			}
			fmt.Fprintf(w, "event: round\ndata: %s\n\n", data)
			return !(only != 0 && event.Status != models.RoundRunning)
		case <-c.Request.Context().Done():
			logger.Info().Str("client_id", clientID).Msg("Event stream disconnected")
			return false
		}
	})
}
