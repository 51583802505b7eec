package loyalty

import (
	"retail-loyalty/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("loyalty.service",
	fx.Provide(NewService),
)

var Routes = fx.Module("loyalty.routes",
	fx.Provide(NewHandler, NewWebhookHandler),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *server.Routes, h *Handler, wh *WebhookHandler) {
	r.User.GET("/loyalty/grants", h.Grants)
	r.User.POST("/loyalty/grants/:id/gift", h.SelectGift)

	r.Admin.POST("/loyalty/levels", h.CreateLevel)

	r.Webhook.POST("/erp/purchases", wh.HandlePurchase)
}
