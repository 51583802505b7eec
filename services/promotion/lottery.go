package promotion

import (
	"context"
	"math/rand/v2"
	"time"

	"retail-loyalty/pkg/celengine"
	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/featureflags"
	"retail-loyalty/pkg/gen"
	"retail-loyalty/pkg/repository"
	"retail-loyalty/services/gift"
	"retail-loyalty/services/user"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Lottery struct {
	db         *gorm.DB
	node       *snowflake.Node
	promotions *Service
	gifts      *gift.Service
	users      *user.Service
	flags      featureflags.FeatureFlag
	intn       func(n int) int

	participations repository.Repository[Participation]
}

type LotteryParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Promotions *Service
	Gifts      *gift.Service
	Users      *user.Service
	Flags      featureflags.FeatureFlag `optional:"true"`
}

func NewLottery(p LotteryParams) *Lottery {
	return &Lottery{
		db:             p.DB,
		node:           p.Node,
		promotions:     p.Promotions,
		gifts:          p.Gifts,
		users:          p.Users,
		flags:          p.Flags,
		intn:           rand.IntN,
		participations: repository.ProvideStore[Participation](p.DB),
	}
}

type Modal struct {
	PromotionID string              `json:"promotion_id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	EndAt       *time.Time          `json:"end_at,omitempty"`
	Gifts       []*gift.CatalogItem `json:"gifts"`
}

type ClaimStatus string

const (
	ClaimStatusClaimed        ClaimStatus = "claimed"
	ClaimStatusAlreadyClaimed ClaimStatus = "already_claimed"
	// ClaimStatusForfeited answers a claim after the modal was dismissed.
	ClaimStatusForfeited ClaimStatus = "forfeited"
)

type ClaimResult struct {
	Status       ClaimStatus  `json:"status"`
	Message      string       `json:"message"`
	GroupID      string       `json:"group_id,omitempty"`
	LikelyWinner *gift.Gift   `json:"likely_winner,omitempty"`
	Gifts        []*gift.Gift `json:"gifts,omitempty"`
}

// UserAttributes is the variable set lottery eligibility expressions see.
// A nil user yields zero values of the right types.
func UserAttributes(u *user.User) map[string]any {
	attrs := map[string]any{
		"bonus_balance":    float64(0),
		"discount_percent": float64(0),
		"has_referral":     false,
		"has_birth_date":   false,
		"registered_days":  int64(0),
	}
	if u == nil {
		return attrs
	}
	attrs["bonus_balance"] = u.BonusBalance
	attrs["discount_percent"] = u.DiscountPercent
	attrs["has_referral"] = u.HasReferral()
	attrs["has_birth_date"] = u.BirthDate != nil
	attrs["registered_days"] = int64(time.Since(u.CreatedAt) / (24 * time.Hour))
	return attrs
}

// eligible applies the lottery kill switch and the promotion's eligibility
// expression. An expression that fails to evaluate counts as not eligible.
func (l *Lottery) eligible(ctx context.Context, userID string, p *Promotion, st LotterySettings) (bool, error) {
	if l.flags != nil && !l.flags.IsEnabled(ctx, userID, featureflags.LotteryModal) {
		return false, nil
	}
	if st.Eligibility == "" {
		return true, nil
	}

	u, err := l.users.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	ok, err := celengine.Evaluate(st.Eligibility, UserAttributes(u))
	if err != nil {
		zap.L().Warn("lottery eligibility evaluation failed",
			zap.String("promotion_id", p.ID), zap.String("user_id", userID), zap.Error(err))
		return false, nil
	}
	return ok, nil
}

// Check returns the lottery modal the user should see, or nil.
func (l *Lottery) Check(ctx context.Context, userID string) (*Modal, error) {
	p, err := l.promotions.ActiveByType(ctx, TypeDateBased)
	if err != nil || p == nil {
		return nil, err
	}

	part, err := l.participations.FindOne(ctx, &Participation{UserID: userID, PromotionID: p.ID})
	if err != nil {
		return nil, err
	}
	if part != nil && part.ModalShown {
		return nil, nil
	}

	st, err := DecodeSettings[LotterySettings](p)
	if err != nil {
		zap.L().Error("invalid lottery settings", zap.String("promotion_id", p.ID), zap.Error(err))
		return nil, nil
	}

	ok, err := l.eligible(ctx, userID, p, st)
	if err != nil || !ok {
		return nil, err
	}

	items, err := l.gifts.LoadCatalog(ctx, nil, st.GiftCatalogIDs)
	if err != nil {
		return nil, err
	}

	return &Modal{
		PromotionID: p.ID,
		Title:       st.Title,
		Description: st.Description,
		EndAt:       p.EndAt,
		Gifts:       items,
	}, nil
}

// Claim hands the user a pending gift group for the lottery, once. A user who
// dismissed the modal has forfeited the gift.
func (l *Lottery) Claim(ctx context.Context, userID, promotionID string) (*ClaimResult, error) {
	p, err := l.lottery(ctx, promotionID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if !p.IsLive(now) {
		return nil, errutil.Conflict("this lottery is no longer active", nil)
	}
	st, err := DecodeSettings[LotterySettings](p)
	if err != nil {
		return nil, errutil.Internal("lottery is misconfigured", err)
	}
	ok, err := l.eligible(ctx, userID, p, st)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errutil.Conflict("you are not eligible for this lottery", nil)
	}

	var gifts []*gift.Gift
	claimed := false
	var current *Participation
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.ensureParticipation(ctx, tx, userID, p.ID); err != nil {
			return err
		}

		res := tx.Model(&Participation{}).
			Where("user_id = ? AND promotion_id = ? AND gift_claimed = ? AND modal_shown = ?", userID, p.ID, false, false).
			Updates(map[string]any{
				"modal_shown":     true,
				"modal_shown_at":  now,
				"gift_claimed":    true,
				"gift_claimed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			current, err = l.participations.WithTrx(tx).FindOne(ctx, &Participation{UserID: userID, PromotionID: p.ID})
			return err
		}

		gifts, err = l.gifts.CreateGroupFromPool(ctx, tx, userID, st.GiftCatalogIDs, gift.SourceLottery, p.ID)
		if err != nil {
			return err
		}
		claimed = true
		return tx.Model(&Participation{}).
			Where("user_id = ? AND promotion_id = ?", userID, p.ID).
			Update("gift_group_id", *gifts[0].GroupID).Error
	})
	if err != nil {
		zap.L().Error("lottery claim failed", zap.String("user_id", userID), zap.String("promotion_id", p.ID), zap.Error(err))
		return nil, err
	}

	if !claimed && current != nil && !current.GiftClaimed {
		return &ClaimResult{
			Status:  ClaimStatusForfeited,
			Message: "The lottery gift was declined and can no longer be claimed",
		}, nil
	}
	if !claimed {
		return &ClaimResult{
			Status:  ClaimStatusAlreadyClaimed,
			Message: "You have already claimed your gift in this lottery",
		}, nil
	}

	return &ClaimResult{
		Status:       ClaimStatusClaimed,
		Message:      "Your gift is waiting for you",
		GroupID:      *gifts[0].GroupID,
		LikelyWinner: gifts[l.intn(len(gifts))],
		Gifts:        gifts,
	}, nil
}

// Dismiss hides the modal for good; the gift is forfeited.
func (l *Lottery) Dismiss(ctx context.Context, userID, promotionID string) error {
	p, err := l.lottery(ctx, promotionID)
	if err != nil {
		return err
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.ensureParticipation(ctx, tx, userID, p.ID); err != nil {
			return err
		}
		return tx.Model(&Participation{}).
			Where("user_id = ? AND promotion_id = ? AND modal_shown = ?", userID, p.ID, false).
			Updates(map[string]any{"modal_shown": true, "modal_shown_at": time.Now()}).Error
	})
}

func (l *Lottery) lottery(ctx context.Context, promotionID string) (*Promotion, error) {
	p, err := l.promotions.Get(ctx, promotionID)
	if err != nil {
		return nil, err
	}
	if p.Type != TypeDateBased {
		return nil, errutil.NotFound("lottery not found", nil)
	}
	return p, nil
}

func (l *Lottery) ensureParticipation(ctx context.Context, tx *gorm.DB, userID, promotionID string) error {
	_, err := l.participations.WithTrx(tx).CreateIfAbsent(ctx, &Participation{
		ID:          gen.NextID(l.node),
		UserID:      userID,
		PromotionID: promotionID,
	})
	return err
}
