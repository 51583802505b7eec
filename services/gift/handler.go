package gift

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

func (h *Handler) Pending(c *gin.Context) {
	groups, err := h.svc.ClaimPendingGroups(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

type selectRequest struct {
	GiftID string `json:"gift_id"`
}

func (h *Handler) Select(c *gin.Context) {
	var req selectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.ValidationFailed("invalid request body", err))
			return
		}
	}
	g, err := h.svc.Select(c.Request.Context(), middleware.UserID(c), c.Param("group_id"), req.GiftID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) Scan(c *gin.Context) {
	g, err := h.svc.ActivateByScan(c.Request.Context(), middleware.UserID(c), c.Param("group_id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) Activate(c *gin.Context) {
	g, err := h.svc.Activate(c.Request.Context(), middleware.UserID(c), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, g)
}

type issuanceRequest struct {
	Code string `json:"code"`
}

func (h *Handler) Confirm(c *gin.Context) {
	var req issuanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}
	g, err := h.svc.ConfirmIssuance(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Code)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) AdminIssue(c *gin.Context) {
	var req issuanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.Error(errutil.ValidationFailed("invalid request body", err))
			return
		}
	}
	g, err := h.svc.AdminIssue(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Code)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) AdminSetStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}
	g, err := h.svc.AdminSetStatus(c.Request.Context(), middleware.UserID(c), c.Param("id"), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *Handler) AdminDispatch(c *gin.Context) {
	var req DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}
	gifts, err := h.svc.AdminDispatch(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"gifts": gifts})
}

func (h *Handler) CreateCatalogItem(c *gin.Context) {
	var req CatalogItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.ValidationFailed("invalid request body", err))
		return
	}
	item, err := h.svc.CreateCatalogItem(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, item)
}
