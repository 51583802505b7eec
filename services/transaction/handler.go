package transaction

import (
	"net/http"

	"retail-loyalty/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Batch(c *gin.Context) {
	var items []WebhookItem
	if err := c.ShouldBindJSON(&items); err != nil {
		c.Error(errutil.ValidationFailed("invalid transaction batch", err))
		return
	}

	res, err := h.svc.ProcessBatch(c.Request.Context(), items)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}
