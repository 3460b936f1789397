package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/huangang/scamarena/backend/internal/middleware"
	"github.com/huangang/scamarena/backend/internal/services"
	"github.com/huangang/scamarena/backend/pkg/response"
)

type EmailHandler struct {
	store *services.Store
}

func NewEmailHandler(store *services.Store) *EmailHandler {
	return &EmailHandler{store: store}
}

func (h *EmailHandler) Get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	email, err := h.store.GetEmail(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, email)
}

type OverrideRequest struct {
	Verdict string `json:"verdict" binding:"required"`
	Reason  string `json:"reason"`
}

// Override records a reviewer's verdict. Each email takes one override.
func (h *EmailHandler) Override(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	override, err := h.store.CreateOverride(c.Request.Context(), id, req.Verdict, middleware.GetUsername(c), req.Reason)
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, override)
}
