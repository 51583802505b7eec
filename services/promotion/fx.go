package promotion

import (
	"retail-loyalty/pkg/server"

	"go.uber.org/fx"
)

var Module = fx.Module("promotion.service",
	fx.Provide(NewService, NewLottery),
)

var Routes = fx.Module("promotion.routes",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

// SchedulerModule runs the expiry job; the worker process includes it.
var SchedulerModule = fx.Module("promotion.scheduler",
	fx.Provide(NewScheduler),
	fx.Invoke(registerScheduler),
)

func registerRoutes(r *server.Routes, h *Handler) {
	r.User.GET("/lottery", h.CheckLottery)
	r.User.POST("/lottery/:promotion_id/claim", h.ClaimLottery)
	r.User.POST("/lottery/:promotion_id/dismiss", h.DismissLottery)

	r.Admin.POST("/promotions", h.Create)
	r.Admin.POST("/promotions/:id/activate", h.Activate)
	r.Admin.POST("/promotions/:id/archive", h.Archive)
}
