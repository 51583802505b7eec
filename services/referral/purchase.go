package referral

import (
	"context"
	"fmt"
	"math"
	"time"

	"retail-loyalty/pkg/erp"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/services/gift"
	"retail-loyalty/services/notification"
	"retail-loyalty/services/promotion"
	"retail-loyalty/services/user"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Purchase is an accepted purchase by a referred user. Number is the
// 1-based count of the user's purchases including this one.
type Purchase struct {
	User   *user.User
	Amount float64
	Number int
}

// ProcessPurchase pays the referral rewards earned by p under the settings
// frozen when the referral was applied. Ledger failures are recorded in the
// payout audit and logged; they are not returned.
func (s *Service) ProcessPurchase(ctx context.Context, p Purchase) error {
	grant, err := s.grants.FindOne(ctx, &Grant{UserID: p.User.ID})
	if err != nil {
		return err
	}
	if grant == nil {
		return nil
	}
	st, err := decodeSnapshot(grant)
	if err != nil {
		return fmt.Errorf("decode referral snapshot: %w", err)
	}

	zapLog := zap.L().With(
		zap.String("user_id", p.User.ID),
		zap.String("referrer_id", grant.ReferrerID),
		zap.Float64("amount", p.Amount),
		zap.Int("purchase_number", p.Number),
		zap.String("stage", "referral_purchase"),
	)

	if st.NewUserBonusPercent > 0 && p.Number <= st.NewUserBonusPurchases {
		s.payBonus(ctx, grant, p.User, PayoutNewUserBonus, p, percentOf(p.Amount, st.NewUserBonusPercent))
	}

	if st.ReferrerMaxPurchases > 0 && p.Number > st.ReferrerMaxPurchases {
		zapLog.Debug("referrer reward window closed")
		return nil
	}

	referrer, err := s.users.Get(ctx, grant.ReferrerID)
	if err != nil {
		if errutil.HasStatus(err, errutil.StatusNotFound) {
			zapLog.Warn("referrer no longer exists")
			return nil
		}
		return err
	}

	if st.HighDiscountThreshold > 0 && s.referrerDiscount(ctx, referrer) >= st.HighDiscountThreshold {
		return s.awardGift(ctx, grant, referrer, st, p)
	}

	if st.ReferrerBonusPercent > 0 {
		s.payBonus(ctx, grant, referrer, PayoutReferrerBonus, p, percentOf(p.Amount, st.ReferrerBonusPercent))
	}
	return nil
}

func percentOf(amount, percent float64) float64 {
	return math.Floor(amount * percent / 100)
}

// referrerDiscount prefers the ERP's figure and falls back to the mirror.
func (s *Service) referrerDiscount(ctx context.Context, referrer *user.User) float64 {
	info, err := s.ledger.GetClientInfo(ctx, referrer.Phone)
	if err != nil {
		zap.L().Warn("failed to read referrer discount from erp, using local mirror",
			zap.String("referrer_id", referrer.ID), zap.Error(err))
		return referrer.DiscountPercent
	}
	if info == nil {
		return referrer.DiscountPercent
	}
	return info.PersonalDiscount
}

func (s *Service) payBonus(ctx context.Context, grant *Grant, recipient *user.User, kind PayoutKind, p Purchase, amount float64) {
	if amount <= 0 {
		return
	}

	payout := &Payout{
		ID:             gen.NextID(s.node),
		GrantID:        grant.ID,
		RecipientID:    recipient.ID,
		Kind:           kind,
		PurchaseNumber: p.Number,
		PurchaseAmount: p.Amount,
		Amount:         amount,
		Status:         PayoutSucceeded,
	}

	zapLog := zap.L().With(
		zap.String("recipient_id", recipient.ID),
		zap.String("kind", string(kind)),
		zap.Float64("amount", amount),
		zap.String("stage", "referral_payout"),
	)

	err := s.ledger.UpdateBonus(ctx, erp.BonusUpdate{
		Phone:     recipient.Phone,
		Amount:    amount,
		Operation: erp.OperationAdd,
		Date:      time.Now(),
		Comment:   "Referral program bonus",
	})
	if err != nil {
		zapLog.Error("failed to pay referral bonus in erp", zap.Error(err))
		payout.Status = PayoutFailed
		payout.Error = err.Error()
	} else if err := s.users.AdjustBonus(ctx, nil, recipient.ID, amount); err != nil {
		zapLog.Warn("failed to adjust local bonus counter", zap.Error(err))
	}

	if err := s.payouts.Create(ctx, payout); err != nil {
		zapLog.Error("failed to record referral payout", zap.Error(err))
	}

	if payout.Status == PayoutSucceeded {
		s.notify(ctx, notification.Message{
			UserID: recipient.ID,
			Kind:   notification.KindReferralReward,
			Title:  "Referral bonus",
			Body:   fmt.Sprintf("You received %.0f bonus points", amount),
			Data:   map[string]string{"kind": string(kind)},
		})
	}
}

// awardGift gives the referrer one random gift from the pool, at most once
// per promotion. Later purchases earn nothing on this path.
func (s *Service) awardGift(ctx context.Context, grant *Grant, referrer *user.User, st promotion.ReferralSettings, p Purchase) error {
	var g *gift.Gift
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		award := &GiftAward{
			ID:             gen.NextID(s.node),
			ReferrerID:     referrer.ID,
			PromotionID:    grant.PromotionID,
			ReferredUserID: p.User.ID,
		}
		created, err := s.awards.WithTrx(tx).CreateIfAbsent(ctx, award)
		if err != nil || !created {
			return err
		}

		items, err := s.gifts.LoadCatalog(ctx, tx, st.GiftCatalogIDs)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return errutil.ValidationFailed("referral gift pool is empty", nil)
		}

		g, err = s.gifts.CreateSelected(ctx, tx, referrer.ID, items[s.intn(len(items))], gift.SourceReferral, grant.ID)
		if err != nil {
			return err
		}
		return s.awards.WithTrx(tx).Update(ctx, award.ID, map[string]any{"gift_id": g.ID})
	})

	zapLog := zap.L().With(zap.String("referrer_id", referrer.ID), zap.String("promotion_id", grant.PromotionID), zap.String("stage", "referral_gift"))
	if err != nil {
		zapLog.Error("failed to award referral gift", zap.Error(err))
		return err
	}
	if g == nil {
		zapLog.Debug("referrer already received a gift for this promotion")
		return nil
	}

	if err := s.payouts.Create(ctx, &Payout{
		ID:             gen.NextID(s.node),
		GrantID:        grant.ID,
		RecipientID:    referrer.ID,
		Kind:           PayoutReferrerGift,
		PurchaseNumber: p.Number,
		PurchaseAmount: p.Amount,
		GiftID:         &g.ID,
		Status:         PayoutSucceeded,
	}); err != nil {
		zapLog.Error("failed to record referral payout", zap.Error(err))
	}

	s.notify(ctx, notification.Message{
		UserID: referrer.ID,
		Kind:   notification.KindReferralReward,
		Title:  "You earned a gift",
		Body:   "Your friend's purchase earned you: " + g.Name,
		Data:   map[string]string{"gift_id": g.ID},
	})
	return nil
}
