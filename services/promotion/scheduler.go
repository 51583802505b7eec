package promotion

import (
	"context"
	"time"

	"retail-loyalty/pkg/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultExpirySpec = "@every 5m"

// Scheduler periodically deactivates promotions past their end date.
type Scheduler struct {
	cron *cron.Cron
	spec string
	svc  *Service
}

func NewScheduler(cfg *config.Config, svc *Service) *Scheduler {
	spec := cfg.Scheduler.PromotionExpirySpec
	if spec == "" {
		spec = defaultExpirySpec
	}
	return &Scheduler{
		cron: cron.New(cron.WithLocation(time.UTC)),
		spec: spec,
		svc:  svc,
	}
}

func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(s.spec, s.run)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("promotion expiry job panic recovered", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := s.svc.DeactivateExpired(ctx)
	if err != nil {
		zap.L().Warn("promotion expiry check failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("deactivated expired promotions", zap.Int64("count", n))
	}
}

func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(2 * time.Second):
	}
}

func registerScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start()
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}
