package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/huangang/scamarena/backend/internal/middleware"
	"github.com/huangang/scamarena/backend/internal/services"
	"github.com/huangang/scamarena/backend/pkg/response"
)

// RoundRunner starts competition rounds.
type RoundRunner interface {
	RunRound(ctx context.Context, totalEmails int, createdBy string) (*services.RoundSummary, error)
	StartRoundAsync(ctx context.Context, totalEmails int, createdBy string) (uint, error)
}

type RoundHandler struct {
	store  *services.Store
	runner RoundRunner
}

func NewRoundHandler(store *services.Store, runner RoundRunner) *RoundHandler {
	return &RoundHandler{store: store, runner: runner}
}

type StartRoundRequest struct {
	TotalEmails int `json:"total_emails" binding:"required,min=1"`
	// Wait runs the round inside the request. Meant for small rounds.
	Wait bool `json:"wait"`
}

// Start queues a round and answers 202 with its id, or runs it to completion
// when wait is set.
func (h *RoundHandler) Start(c *gin.Context) {
	var req StartRoundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	createdBy := middleware.GetUsername(c)

	if req.Wait {
		summary, err := h.runner.RunRound(c.Request.Context(), req.TotalEmails, createdBy)
		if err != nil {
			fail(c, err)
			return
		}
		response.Success(c, summary)
		return
	}

	// The round outlives this request.
	id, err := h.runner.StartRoundAsync(context.WithoutCancel(c.Request.Context()), req.TotalEmails, createdBy)
	if err != nil {
		fail(c, err)
		return
	}
	response.Accepted(c, gin.H{"round_id": id})
}

func (h *RoundHandler) List(c *gin.Context) {
	var req services.RoundListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	resp, err := h.store.ListRounds(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Paged(c, resp.Total, resp.Page, resp.PageSize, resp.Items)
}

func (h *RoundHandler) Get(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	round, err := h.store.GetRound(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, round)
}

func (h *RoundHandler) Emails(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.GetRound(ctx, id); err != nil {
		fail(c, err)
		return
	}
	emails, err := h.store.ListEmails(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, emails)
}

// Usage reports token and cost totals per agent for a round.
func (h *RoundHandler) Usage(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.GetRound(ctx, id); err != nil {
		fail(c, err)
		return
	}
	stats, err := h.store.UsageStats(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	calls, err := h.store.ListAPICalls(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"summary": stats, "calls": calls})
}
