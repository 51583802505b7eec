package gift

import (
	"retail-loyalty/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("gift.service",
	fx.Provide(NewService),
)

var Routes = fx.Module("gift.routes",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *server.Routes, h *Handler) {
	r.User.GET("/gifts/pending", h.Pending)
	r.User.POST("/gifts/groups/:group_id/select", h.Select)
	r.User.POST("/gifts/groups/:group_id/scan", h.Scan)
	r.User.POST("/gifts/:id/activate", h.Activate)
	r.User.POST("/gifts/:id/confirm", h.Confirm)

	r.Admin.POST("/gift-catalog", h.CreateCatalogItem)
	r.Admin.POST("/gifts/dispatch", h.AdminDispatch)
	r.Admin.POST("/gifts/:id/status", h.AdminSetStatus)
	r.Admin.POST("/gifts/:id/issue", h.AdminIssue)
}
