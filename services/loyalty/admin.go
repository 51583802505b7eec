package loyalty

import (
	"context"

	"retail-loyalty/pkg/errutil"
	"retail-loyalty/pkg/gen"

	"gorm.io/gorm"
)

type RewardRequest struct {
	Type            RewardType `json:"type" binding:"required"`
	DiscountPercent *float64   `json:"discount_percent"`
	BonusAmount     *float64   `json:"bonus_amount"`
	GiftOptionIDs   []string   `json:"gift_option_ids"`
}

type LevelRequest struct {
	Name              string          `json:"name" binding:"required"`
	MinPurchaseAmount float64         `json:"min_purchase_amount" binding:"gte=0"`
	SortOrder         int             `json:"sort_order"`
	Rewards           []RewardRequest `json:"rewards"`
}

func (r RewardRequest) validate() error {
	switch r.Type {
	case RewardDiscount:
		if r.DiscountPercent == nil || *r.DiscountPercent < 0 || *r.DiscountPercent > 100 {
			return errutil.ValidationFailed("discount reward needs a percent between 0 and 100", nil)
		}
	case RewardBonus:
		if r.BonusAmount == nil || *r.BonusAmount <= 0 {
			return errutil.ValidationFailed("bonus reward needs a positive amount", nil)
		}
	case RewardGiftChoice:
		if len(r.GiftOptionIDs) == 0 {
			return errutil.ValidationFailed("gift choice reward needs at least one option", nil)
		}
	default:
		return errutil.ValidationFailed("unknown reward type", nil)
	}
	return nil
}

// CreateLevel adds an active level with its rewards.
func (s *Service) CreateLevel(ctx context.Context, req LevelRequest) (*Level, error) {
	for _, r := range req.Rewards {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}

	lvl := &Level{
		ID:                gen.NextID(s.node),
		Name:              req.Name,
		MinPurchaseAmount: req.MinPurchaseAmount,
		SortOrder:         req.SortOrder,
		IsActive:          true,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.levels.WithTrx(tx).Create(ctx, lvl); err != nil {
			return err
		}
		for _, r := range req.Rewards {
			reward := &Reward{
				ID:              gen.NextID(s.node),
				LevelID:         lvl.ID,
				Type:            r.Type,
				DiscountPercent: r.DiscountPercent,
				BonusAmount:     r.BonusAmount,
			}
			if r.Type == RewardGiftChoice {
				items, err := s.gifts.LoadCatalog(ctx, tx, r.GiftOptionIDs)
				if err != nil {
					return err
				}
				if len(items) != len(r.GiftOptionIDs) {
					return errutil.ValidationFailed("unknown or inactive gift option", nil)
				}
				reward.GiftOptions = items
			}
			if err := s.rewards.WithTrx(tx).Create(ctx, reward); err != nil {
				return err
			}
			lvl.Rewards = append(lvl.Rewards, reward)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.invalidate()
	return lvl, nil
}
