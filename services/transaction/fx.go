package transaction

import (
	"retail-loyalty/pkg/server"
	"retail-loyalty/pkg/taskname"
	"retail-loyalty/services/loyalty"
	"retail-loyalty/services/referral"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("transaction.service",
	fx.Provide(
		func(s *loyalty.Service) LoyaltyEvaluator { return s },
		func(s *referral.Service) ReferralProcessor { return s },
		NewService,
	),
)

var Routes = fx.Module("transaction.routes",
	fx.Provide(NewHandler),
	fx.Invoke(registerRoutes),
)

var TaskModule = fx.Module("transaction.task",
	fx.Provide(NewSyncTask),
	fx.Invoke(registerHandlers),
)

func registerRoutes(r *server.Routes, h *Handler) {
	r.Webhook.POST("/erp/transactions", h.Batch)
}

func registerHandlers(mux *asynq.ServeMux, t *SyncTask) {
	mux.HandleFunc(taskname.ERPSyncClient, t.HandleSyncClientTask)
}
