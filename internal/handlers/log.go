package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/huangang/scamarena/backend/internal/services"
	"github.com/huangang/scamarena/backend/pkg/response"
)

type LogHandler struct {
	store *services.Store
}

func NewLogHandler(store *services.Store) *LogHandler {
	return &LogHandler{store: store}
}

func (h *LogHandler) List(c *gin.Context) {
	var req services.LogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	resp, err := h.store.ListLogs(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Paged(c, resp.Total, resp.Page, resp.PageSize, resp.Items)
}
