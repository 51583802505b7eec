package bootstrap

import (
	"context"

	"retail-loyalty/pkg/config"
	"retail-loyalty/services/gift"
	"retail-loyalty/services/idempotency"
	"retail-loyalty/services/loyalty"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/promotion"
	"retail-loyalty/services/referral"
	"retail-loyalty/services/transaction"
	"retail-loyalty/services/user"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db     *gorm.DB
	config *config.Config
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		config: p.Config,
	}
}

// Models lists every table the engine owns, in dependency order.
func Models() []any {
	models := []any{&user.User{}}
	for _, group := range [][]any{
		gift.Models(),
		promotion.Models(),
		loyalty.Models(),
		referral.Models(),
		idempotency.Models(),
		transaction.Models(),
		notification.Models(),
	} {
		models = append(models, group...)
	}
	return models
}

// Migrate brings the schema up to date when DATABASE.AUTO_MIGRATE is set.
func (s *Service) Migrate(ctx context.Context) error {
	if !s.config.Database.AutoMigrate {
		zap.L().Info("[bootstrap] auto migration disabled")
		return nil
	}

	models := Models()
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		zap.L().Error("[bootstrap] failed to migrate schema", zap.Error(err))
		return err
	}
	zap.L().Info("[bootstrap] schema migrated", zap.Int("tables", len(models)))
	return nil
}
