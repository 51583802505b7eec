package main

import (
	"log"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/db"
	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/featureflags"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/hashistack/secretmanager"
	"retail-loyalty/pkg/health"
	"retail-loyalty/pkg/logger"
	"retail-loyalty/pkg/otelcol"
	"retail-loyalty/pkg/profiling"
	"retail-loyalty/pkg/redis"
	"retail-loyalty/pkg/sequence"
	"retail-loyalty/pkg/server"
	"retail-loyalty/pkg/task"
	"retail-loyalty/services/bootstrap"
	"retail-loyalty/services/gift"
	"retail-loyalty/services/idempotency"
	"retail-loyalty/services/loyalty"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/promotion"
	"retail-loyalty/services/referral"
	"retail-loyalty/services/transaction"
	"retail-loyalty/services/user"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		erp.Module,
		featureflags.Module,
		task.Client,
		bootstrap.Module,

		notification.Module,
		user.Module,
		gift.Module,
		promotion.Module,
		loyalty.Module,
		referral.Module,
		idempotency.Module,
		transaction.Module,

		server.ProvideHTTPServer,
		health.Module,
		user.Routes,
		gift.Routes,
		promotion.Routes,
		loyalty.Routes,
		referral.Routes,
		transaction.Routes,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "production" {
		return fxevent.NopLogger
	}
	return &fxevent.ZapLogger{Logger: logger}
})
