package transaction

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/repository"
	"retail-loyalty/pkg/task"
	"retail-loyalty/services/idempotency"
	"retail-loyalty/services/loyalty"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/referral"
	"retail-loyalty/services/user"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	recordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_transactions_recorded_total",
		Help: "Webhook items recorded, by operation.",
	}, []string{"operation"})
	skippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_transactions_skipped_total",
		Help: "Webhook items skipped, by reason.",
	}, []string{"reason"})
	downstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_transactions_downstream_failures_total",
		Help: "Loyalty or referral processing failures after a recorded purchase.",
	}, []string{"stage"})
)

var accrualLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var errAlreadyRecorded = errors.New("document already recorded")

// LoyaltyEvaluator receives the user's all-time purchase total.
type LoyaltyEvaluator interface {
	Evaluate(ctx context.Context, u *user.User, total float64) (*loyalty.Result, error)
}

// ReferralProcessor receives purchases of referred users.
type ReferralProcessor interface {
	ProcessPurchase(ctx context.Context, p referral.Purchase) error
}

type Service struct {
	db           *gorm.DB
	node         *snowflake.Node
	location     *time.Location
	returnWindow int

	users    *user.Service
	gate     *idempotency.Gate
	loyalty  LoyaltyEvaluator
	referral ReferralProcessor
	notifier notification.Dispatcher
	enqueuer task.Enqueuer

	purchases repository.Repository[PurchaseRecord]
	events    repository.Repository[Event]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Users    *user.Service
	Gate     *idempotency.Gate
	Loyalty  LoyaltyEvaluator        `optional:"true"`
	Referral ReferralProcessor       `optional:"true"`
	Notifier notification.Dispatcher `optional:"true"`
	Enqueuer task.Enqueuer           `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	loc := time.Local
	window := 14
	if p.Config != nil {
		if p.Config.Loyalty.Timezone != "" {
			if l, err := time.LoadLocation(p.Config.Loyalty.Timezone); err == nil {
				loc = l
			} else {
				zap.L().Warn("unknown loyalty timezone, using local", zap.String("timezone", p.Config.Loyalty.Timezone), zap.Error(err))
			}
		}
		if p.Config.Loyalty.ReturnWindowDays > 0 {
			window = p.Config.Loyalty.ReturnWindowDays
		}
	}
	return &Service{
		db:           p.DB,
		node:         p.Node,
		location:     loc,
		returnWindow: window,
		users:        p.Users,
		gate:         p.Gate,
		loyalty:      p.Loyalty,
		referral:     p.Referral,
		notifier:     p.Notifier,
		enqueuer:     p.Enqueuer,
		purchases:    repository.ProvideStore[PurchaseRecord](p.DB),
		events:       repository.ProvideStore[Event](p.DB),
	}
}

type item struct {
	WebhookItem
	accruedAt time.Time
}

func (s *Service) validate(items []WebhookItem) ([]item, error) {
	var details []errutil.Detail
	out := make([]item, 0, len(items))
	for i, it := range items {
		field := func(name string) string { return "[" + strconv.Itoa(i) + "]." + name }
		if it.UserID == "" {
			details = append(details, errutil.Detail{Field: field("userId"), Message: "required"})
		}
		if !it.Operation.Valid() {
			details = append(details, errutil.Detail{Field: field("operation"), Message: "must be add or write-off"})
		}
		if it.PurchaseAmount < 0 {
			details = append(details, errutil.Detail{Field: field("purchaseAmount"), Message: "must not be negative"})
		}
		at, err := s.parseAccrual(it.BonusAccrualDate)
		if err != nil {
			details = append(details, errutil.Detail{Field: field("bonusAccrualDate"), Message: "invalid date"})
		}
		out = append(out, item{WebhookItem: it, accruedAt: at})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid transaction batch", nil, errutil.WithDetails(details...))
	}
	return out, nil
}

func (s *Service) parseAccrual(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now().In(s.location), nil
	}
	for _, layout := range accrualLayouts {
		if t, err := time.ParseInLocation(layout, raw, s.location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable accrual date %q", raw)
}

// ProcessBatch records the batch strictly in order. Skipped items are not
// errors; a malformed batch is rejected as a whole before anything is written.
func (s *Service) ProcessBatch(ctx context.Context, items []WebhookItem) (*BatchResult, error) {
	valid, err := s.validate(items)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{}
	batch := s.gate.NewBatch()
	for _, it := range valid {
		ev := idempotency.Event{DocumentID: it.DocumentID, Operation: it.Operation, BonusAmount: it.BonusAmount}
		if out := batch.Admit(ctx, ev); out != idempotency.Accepted {
			skippedTotal.WithLabelValues(string(out)).Inc()
			continue
		}

		updated, err := s.processItem(ctx, it)
		if errors.Is(err, errAlreadyRecorded) {
			skippedTotal.WithLabelValues("already_recorded").Inc()
			continue
		}
		if err != nil {
			batch.Release(ctx, ev)
			return nil, err
		}
		res.Processed++
		if updated {
			res.LoyaltyUpdates++
		}
	}

	res.Message = fmt.Sprintf("processed %d of %d transactions", res.Processed, len(items))
	return res, nil
}

// processItem reports whether the item granted at least one loyalty level.
// Items for unknown phones are logged and count as processed.
func (s *Service) processItem(ctx context.Context, it item) (bool, error) {
	zapLog := zap.L().With(
		zap.String("phone", it.UserID),
		zap.String("document_id", it.DocumentID),
		zap.String("operation", string(it.Operation)),
		zap.Float64("bonus", it.BonusAmount),
		zap.Float64("purchase", it.PurchaseAmount),
	)

	u, err := s.users.FindByPhone(ctx, it.UserID)
	if err != nil {
		zapLog.Error("failed to look up user", zap.Error(err))
		return false, err
	}
	if u == nil {
		skippedTotal.WithLabelValues("user_not_found").Inc()
		zapLog.Warn("transaction for unknown phone skipped")
		return false, nil
	}
	zapLog = zapLog.With(zap.String("user_id", u.ID))

	if err := s.record(ctx, u, it); err != nil {
		if errors.Is(err, errAlreadyRecorded) {
			zapLog.Info("document already recorded")
			return false, err
		}
		zapLog.Error("failed to record transaction", zap.Error(err))
		return false, err
	}
	recordedTotal.WithLabelValues(string(it.Operation)).Inc()

	s.afterRecord(ctx, u, it)

	if it.Operation != erp.OperationAdd {
		return false, nil
	}
	return s.forward(ctx, zapLog, u, it), nil
}

func (s *Service) record(ctx context.Context, u *user.User, it item) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claimed, err := s.gate.Claim(ctx, tx, it.DocumentID, it.Operation, u.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return errAlreadyRecorded
		}

		ev := &Event{
			ID:             gen.NextID(s.node),
			UserID:         u.ID,
			Kind:           it.Operation,
			Amount:         it.BonusAmount,
			PurchaseAmount: it.PurchaseAmount,
			DocumentID:     it.DocumentID,
			AccruedAt:      it.accruedAt,
		}
		delta := it.BonusAmount

		if it.Operation == erp.OperationAdd {
			pr := &PurchaseRecord{
				ID:          gen.NextID(s.node),
				UserID:      u.ID,
				Amount:      it.PurchaseAmount,
				DocumentID:  it.DocumentID,
				PurchasedAt: it.accruedAt.AddDate(0, 0, -s.returnWindow),
			}
			if err := s.purchases.WithTrx(tx).Create(ctx, pr); err != nil {
				return err
			}
			ev.PurchaseID = &pr.ID
		} else {
			delta = -delta
		}

		if err := s.events.WithTrx(tx).Create(ctx, ev); err != nil {
			return err
		}
		return s.users.AdjustBonus(ctx, tx, u.ID, delta)
	})
}

// afterRecord hands the change to the notifier and schedules a pull of the
// authoritative balance. Both are best effort.
func (s *Service) afterRecord(ctx context.Context, u *user.User, it item) {
	if s.notifier != nil {
		msg := notification.Message{
			UserID:    u.ID,
			Kind:      notification.KindBonusAccrued,
			Title:     "Bonuses accrued",
			Body:      fmt.Sprintf("%s bonuses added to your account", formatAmount(it.BonusAmount)),
			Data:      map[string]string{"amount": formatAmount(it.BonusAmount), "document_id": it.DocumentID},
			WithDelay: it.WithDelay,
		}
		if it.Operation == erp.OperationWriteOff {
			msg.Kind = notification.KindBonusWrittenOff
			msg.Title = "Bonuses spent"
			msg.Body = fmt.Sprintf("%s bonuses written off", formatAmount(it.BonusAmount))
		}
		if err := s.notifier.Dispatch(ctx, msg); err != nil {
			zap.L().Warn("failed to dispatch bonus notification", zap.String("user_id", u.ID), zap.Error(err))
		}
	}

	if s.enqueuer != nil {
		t, err := NewSyncClientTask(SyncClientPayload{UserID: u.ID, Phone: u.Phone})
		if err == nil {
			_, err = s.enqueuer.Enqueue(ctx, t)
		}
		if err != nil {
			zap.L().Warn("failed to schedule ledger sync", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
}

// forward feeds loyalty and referral processing. Failures are logged with
// enough context to replay and never undo the recorded purchase.
func (s *Service) forward(ctx context.Context, zapLog *zap.Logger, u *user.User, it item) bool {
	updated := false
	if s.loyalty != nil {
		total, err := s.PurchaseTotal(ctx, u.ID)
		if err != nil {
			downstreamFailures.WithLabelValues("loyalty").Inc()
			zapLog.Error("failed to sum purchases", zap.String("stage", "loyalty"), zap.Error(err))
		} else {
			res, err := s.loyalty.Evaluate(ctx, u, total)
			if err != nil {
				downstreamFailures.WithLabelValues("loyalty").Inc()
				zapLog.Error("loyalty evaluation failed", zap.String("stage", "loyalty"), zap.Float64("total", total), zap.Error(err))
			}
			updated = res != nil && len(res.Granted) > 0
		}
	}

	if s.referral != nil && u.HasReferral() {
		n, err := s.purchases.Count(ctx, &PurchaseRecord{UserID: u.ID})
		if err != nil {
			downstreamFailures.WithLabelValues("referral").Inc()
			zapLog.Error("failed to count purchases", zap.String("stage", "referral"), zap.Error(err))
			return updated
		}
		p := referral.Purchase{User: u, Amount: it.PurchaseAmount, Number: int(n)}
		if err := s.referral.ProcessPurchase(ctx, p); err != nil {
			downstreamFailures.WithLabelValues("referral").Inc()
			zapLog.Error("referral processing failed", zap.String("stage", "referral"), zap.Int("purchase_number", p.Number), zap.Error(err))
		}
	}
	return updated
}

// PurchaseTotal is the sum of every recorded purchase of the user.
func (s *Service) PurchaseTotal(ctx context.Context, userID string) (float64, error) {
	var total float64
	err := s.db.WithContext(ctx).Model(&PurchaseRecord{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
