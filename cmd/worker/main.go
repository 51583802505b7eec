package main

import (
	"log"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/db"
	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/hashistack/secretmanager"
	"retail-loyalty/pkg/logger"
	"retail-loyalty/pkg/otelcol"
	"retail-loyalty/pkg/profiling"
	"retail-loyalty/pkg/redis"
	"retail-loyalty/pkg/sequence"
	"retail-loyalty/pkg/task"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/promotion"
	"retail-loyalty/services/transaction"
	"retail-loyalty/services/user"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// The worker drains asynq queues and runs the promotion expiry job.
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
		task.Server,

		fx.Provide(promotion.NewService),
		user.Module,
		notification.TaskModule,
		transaction.TaskModule,
		promotion.SchedulerModule,
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
