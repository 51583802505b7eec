package referral

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

func (h *Handler) Info(c *gin.Context) {
	info, err := h.svc.GetInfo(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) ApplyCode(c *gin.Context) {
	var req ApplyCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}
	info, err := h.svc.ApplyCode(c.Request.Context(), middleware.UserID(c), req.Code)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) ApplyLink(c *gin.Context) {
	var req ApplyLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}
	info, err := h.svc.ApplyLinkToken(c.Request.Context(), middleware.UserID(c), req.Token)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) CreateLink(c *gin.Context) {
	link, err := h.svc.CreateLinkToken(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, link)
}
