package promotion

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeSinglePurchase Type = "single_purchase"
	TypeFriendDiscount Type = "friend_discount"
	TypeDateBased      Type = "date_based"
	TypeBirthday       Type = "birthday"
)

func (t Type) Valid() bool {
	switch t {
	case TypeSinglePurchase, TypeFriendDiscount, TypeDateBased, TypeBirthday:
		return true
	}
	return false
}

// Exclusive types allow a single active, non-archived promotion at a time.
func (t Type) Exclusive() bool {
	return t == TypeBirthday || t == TypeFriendDiscount
}

type Promotion struct {
	ID         string         `gorm:"column:id;primaryKey" json:"id"`
	Type       Type           `gorm:"column:type;size:32;index" json:"type"`
	Name       string         `gorm:"column:name" json:"name"`
	Settings   datatypes.JSON `gorm:"column:settings" json:"settings"`
	StartAt    *time.Time     `gorm:"column:start_at" json:"start_at,omitempty"`
	EndAt      *time.Time     `gorm:"column:end_at" json:"end_at,omitempty"`
	IsActive   bool           `gorm:"column:is_active" json:"is_active"`
	IsArchived bool           `gorm:"column:is_archived" json:"is_archived"`
	// ExclusiveKey holds the type while an exclusive promotion is live and is
	// NULL otherwise, so the unique index admits one live row per type.
	ExclusiveKey *string   `gorm:"column:exclusive_key;size:32;uniqueIndex" json:"-"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// IsLive checks flags and the date window.
func (p *Promotion) IsLive(now time.Time) bool {
	if !p.IsActive || p.IsArchived {
		return false
	}
	if p.StartAt != nil && now.Before(*p.StartAt) {
		return false
	}
	if p.EndAt != nil && now.After(*p.EndAt) {
		return false
	}
	return true
}

func (p *Promotion) exclusiveKey() *string {
	if !p.Type.Exclusive() {
		return nil
	}
	k := string(p.Type)
	return &k
}

// DecodeSettings unmarshals the promotion's settings into T.
func DecodeSettings[T any](p *Promotion) (T, error) {
	var out T
	if len(p.Settings) == 0 {
		return out, nil
	}
	err := json.Unmarshal(p.Settings, &out)
	return out, err
}

type LotterySettings struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	GiftCatalogIDs []string `json:"gift_catalog_ids"`
	// Eligibility is an optional CEL expression over the user attributes.
	Eligibility string `json:"eligibility,omitempty"`
}

type ReferralSettings struct {
	NewUserDiscountPercent float64  `json:"new_user_discount_percent"`
	NewUserBonusPercent    float64  `json:"new_user_bonus_percent"`
	NewUserBonusPurchases  int      `json:"new_user_bonus_purchases"`
	ReferrerBonusPercent   float64  `json:"referrer_bonus_percent"`
	ReferrerMaxPurchases   int      `json:"referrer_max_purchases"`
	HighDiscountThreshold  float64  `json:"high_discount_threshold"`
	GiftCatalogIDs         []string `json:"gift_catalog_ids"`
}

type Participation struct {
	ID            string     `gorm:"column:id;primaryKey" json:"id"`
	UserID        string     `gorm:"column:user_id;uniqueIndex:ux_lottery_user_promotion" json:"user_id"`
	PromotionID   string     `gorm:"column:promotion_id;uniqueIndex:ux_lottery_user_promotion" json:"promotion_id"`
	ModalShown    bool       `gorm:"column:modal_shown" json:"modal_shown"`
	ModalShownAt  *time.Time `gorm:"column:modal_shown_at" json:"modal_shown_at,omitempty"`
	GiftClaimed   bool       `gorm:"column:gift_claimed" json:"gift_claimed"`
	GiftClaimedAt *time.Time `gorm:"column:gift_claimed_at" json:"gift_claimed_at,omitempty"`
	GiftGroupID   *string    `gorm:"column:gift_group_id" json:"gift_group_id,omitempty"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Participation) TableName() string { return "user_lottery_participations" }

func Models() []any {
	return []any{&Promotion{}, &Participation{}}
}
