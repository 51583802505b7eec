package loyalty

import (
	"time"

	"retail-loyalty/services/gift"

	"gorm.io/datatypes"
)

type RewardType string

const (
	RewardDiscount   RewardType = "discount"
	RewardBonus      RewardType = "bonus"
	RewardGiftChoice RewardType = "gift_choice"
)

func (t RewardType) String() string {
	switch t {
	case RewardDiscount, RewardBonus, RewardGiftChoice:
		return string(t)
	default:
		return ""
	}
}

type Level struct {
	ID                string    `gorm:"column:id;primaryKey" json:"id"`
	Name              string    `gorm:"column:name" json:"name"`
	MinPurchaseAmount float64   `gorm:"column:min_purchase_amount;index" json:"min_purchase_amount"`
	SortOrder         int       `gorm:"column:sort_order" json:"sort_order"`
	IsActive          bool      `gorm:"column:is_active" json:"is_active"`
	Rewards           []*Reward `gorm:"foreignKey:LevelID" json:"rewards"`
	CreatedAt         time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Level) TableName() string { return "loyalty_levels" }

type Reward struct {
	ID              string              `gorm:"column:id;primaryKey" json:"id"`
	LevelID         string              `gorm:"column:level_id;index" json:"level_id"`
	Type            RewardType          `gorm:"column:type;size:16" json:"type"`
	DiscountPercent *float64            `gorm:"column:discount_percent" json:"discount_percent,omitempty"`
	BonusAmount     *float64            `gorm:"column:bonus_amount" json:"bonus_amount,omitempty"`
	GiftOptions     []*gift.CatalogItem `gorm:"many2many:loyalty_reward_gift_options" json:"gift_options,omitempty"`
}

func (Reward) TableName() string { return "loyalty_rewards" }

// RewardSnapshot is a reward as it stood when the level was granted.
type RewardSnapshot struct {
	ID              string     `json:"id"`
	Type            RewardType `json:"type"`
	DiscountPercent float64    `json:"discount_percent,omitempty"`
	BonusAmount     float64    `json:"bonus_amount,omitempty"`
	GiftOptionIDs   []string   `json:"gift_option_ids,omitempty"`
}

func snapshotRewards(rewards []*Reward) []RewardSnapshot {
	out := make([]RewardSnapshot, 0, len(rewards))
	for _, r := range rewards {
		snap := RewardSnapshot{ID: r.ID, Type: r.Type}
		if r.DiscountPercent != nil {
			snap.DiscountPercent = *r.DiscountPercent
		}
		if r.BonusAmount != nil {
			snap.BonusAmount = *r.BonusAmount
		}
		for _, opt := range r.GiftOptions {
			snap.GiftOptionIDs = append(snap.GiftOptionIDs, opt.ID)
		}
		out = append(out, snap)
	}
	return out
}

// Grant records that a user reached a level. (user_id, level_id) is unique.
type Grant struct {
	ID              string         `gorm:"column:id;primaryKey" json:"id"`
	UserID          string         `gorm:"column:user_id;uniqueIndex:ux_loyalty_grant_user_level" json:"user_id"`
	LevelID         string         `gorm:"column:level_id;uniqueIndex:ux_loyalty_grant_user_level" json:"level_id"`
	RewardID        *string        `gorm:"column:reward_id" json:"reward_id,omitempty"`
	RewardSnapshot  datatypes.JSON `gorm:"column:reward_snapshot" json:"reward_snapshot"`
	AchievedAt      time.Time      `gorm:"column:achieved_at" json:"achieved_at"`
	SelectedGiftID  *string        `gorm:"column:selected_gift_id" json:"selected_gift_id,omitempty"`
	RewardClaimedAt *time.Time     `gorm:"column:reward_claimed_at" json:"reward_claimed_at,omitempty"`
	GiftID          *string        `gorm:"column:gift_id" json:"gift_id,omitempty"`
	CreatedAt       time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Grant) TableName() string { return "user_loyalty_grants" }

func Models() []any {
	return []any{&Level{}, &Reward{}, &Grant{}}
}
