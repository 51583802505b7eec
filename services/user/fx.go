package user

import (
	"retail-loyalty/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(NewService),
)

var Routes = fx.Module("user.routes",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

func registerRoutes(r *server.Routes, h *Handler) {
	r.User.GET("/me", h.Me)

	r.Admin.POST("/users", h.Register)
	r.Admin.POST("/users/:id/bonus", h.AdjustBonus)
	r.Admin.POST("/users/:id/discount", h.SetDiscount)
}
