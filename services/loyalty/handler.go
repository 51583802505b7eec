package loyalty

import (
	"net/http"

	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Grants(c *gin.Context) {
	grants, err := h.svc.ListGrants(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"grants": grants})
}

func (h *Handler) SelectGift(c *gin.Context) {
	var req SelectGiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}
	g, err := h.svc.SelectGift(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.CatalogItemID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) CreateLevel(c *gin.Context) {
	var req LevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}
	lvl, err := h.svc.CreateLevel(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, lvl)
}
