package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/huangang/scamarena/backend/internal/models"
	"github.com/huangang/scamarena/backend/internal/services"
	"github.com/huangang/scamarena/backend/pkg/response"
)

// fail maps store and validation errors onto HTTP statuses.
func fail(c *gin.Context, err error) {
	var ve *models.ValidationError
	switch {
	case errors.Is(err, services.ErrNotFound):
		response.Error(c, response.Wrap(http.StatusNotFound, err))
	case errors.Is(err, services.ErrDuplicateOverride):
		response.Error(c, response.Wrap(http.StatusConflict, err))
	case errors.As(err, &ve):
		response.Error(c, response.Wrap(http.StatusBadRequest, ve))
	default:
		response.Error(c, err)
	}
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}
