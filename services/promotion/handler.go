package promotion

import (
	"net/http"

	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc     *Service
	lottery *Lottery
}

func NewHandler(svc *Service, lottery *Lottery) *Handler {
	return &Handler{svc: svc, lottery: lottery}
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}
	p, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) Activate(c *gin.Context) {
	p, err := h.svc.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) Archive(c *gin.Context) {
	p, err := h.svc.Archive(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) CheckLottery(c *gin.Context) {
	modal, err := h.lottery.Check(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lottery": modal})
}

func (h *Handler) ClaimLottery(c *gin.Context) {
	res, err := h.lottery.Claim(c.Request.Context(), middleware.UserID(c), c.Param("promotion_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DismissLottery(c *gin.Context) {
	if err := h.lottery.Dismiss(c.Request.Context(), middleware.UserID(c), c.Param("promotion_id")); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
