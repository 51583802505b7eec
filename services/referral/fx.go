package referral

import (
	"retail-loyalty/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	fx.Provide(NewRedisLinkStore, NewService),
)

var Routes = fx.Module("referral.routes",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *server.Routes, h *Handler) {
	r.User.GET("/referral", h.Info)
	r.User.POST("/referral/apply", h.ApplyCode)
	r.User.POST("/referral/apply-link", h.ApplyLink)
	r.User.POST("/referral/link", h.CreateLink)
}
