package loyalty

import (
	"net/http"

	"retail-loyalty/services/user"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PurchaseWebhook is the ERP's tier side-channel: it reports a client's
// all-time purchase total directly.
type PurchaseWebhook struct {
	Phone          string   `json:"phone" binding:"required"`
	PurchaseAmount *float64 `json:"purchase_amount"`
	TotalPurchases float64  `json:"total_purchases" binding:"gte=0"`
	Timestamp      string   `json:"timestamp"`
}

type WebhookStatus string

const (
	WebhookOK           WebhookStatus = "ok"
	WebhookUserNotFound WebhookStatus = "user_not_found"
	WebhookError        WebhookStatus = "error"
)

type WebhookResponse struct {
	Status        WebhookStatus `json:"status"`
	LevelsGranted int           `json:"levels_granted"`
	HighestLevel  *string       `json:"highest_level,omitempty"`
	NewLevels     []string      `json:"new_levels,omitempty"`
	Message       string        `json:"message,omitempty"`
}

type WebhookHandler struct {
	svc   *Service
	users *user.Service
}

func NewWebhookHandler(svc *Service, users *user.Service) *WebhookHandler {
	return &WebhookHandler{svc: svc, users: users}
}

// HandlePurchase answers 200 for unknown phones so the ERP does not retry them.
func (h *WebhookHandler) HandlePurchase(c *gin.Context) {
	var req PurchaseWebhook
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, WebhookResponse{Status: WebhookError, Message: "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	zapLog := zap.L().With(zap.String("phone", req.Phone), zap.Float64("total", req.TotalPurchases), zap.String("stage", "loyalty_webhook"))

	u, err := h.users.FindByPhone(ctx, req.Phone)
	if err != nil {
		zapLog.Error("failed to look up user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, WebhookResponse{Status: WebhookError, Message: "internal error"})
		return
	}
	if u == nil {
		zapLog.Info("loyalty webhook for unknown phone")
		c.JSON(http.StatusOK, WebhookResponse{Status: WebhookUserNotFound})
		return
	}

	res, err := h.svc.Evaluate(ctx, u, req.TotalPurchases)
	if err != nil {
		zapLog.Error("loyalty evaluation failed", zap.String("user_id", u.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, WebhookResponse{Status: WebhookError, Message: "evaluation failed"})
		return
	}

	out := WebhookResponse{Status: WebhookOK, LevelsGranted: len(res.Granted)}
	for _, lvl := range res.Granted {
		out.NewLevels = append(out.NewLevels, lvl.Name)
	}
	if top := res.Highest(); top != nil {
		out.HighestLevel = &top.Name
	}
	c.JSON(http.StatusOK, out)
}
