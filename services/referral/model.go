package referral

import (
	"time"

	"gorm.io/datatypes"
)

// Grant is the one referral a user may ever apply.
type Grant struct {
	ID          string `gorm:"column:id;primaryKey" json:"id"`
	UserID      string `gorm:"column:user_id;uniqueIndex" json:"user_id"`
	ReferrerID  string `gorm:"column:referrer_id;index" json:"referrer_id"`
	PromotionID string `gorm:"column:promotion_id" json:"promotion_id"`
	// PairKey is the two user ids in sorted order; A→B and B→A share it.
	PairKey          string         `gorm:"column:pair_key;uniqueIndex" json:"-"`
	SettingsSnapshot datatypes.JSON `gorm:"column:settings_snapshot" json:"settings_snapshot"`
	AppliedAt        time.Time      `gorm:"column:applied_at" json:"applied_at"`
	CreatedAt        time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Grant) TableName() string { return "user_referral_grants" }

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

type PayoutKind string

const (
	PayoutNewUserBonus  PayoutKind = "new_user_bonus"
	PayoutReferrerBonus PayoutKind = "referrer_bonus"
	PayoutReferrerGift  PayoutKind = "referrer_gift"
)

type PayoutStatus string

const (
	PayoutSucceeded PayoutStatus = "succeeded"
	PayoutFailed    PayoutStatus = "failed"
)

// Payout audits every reward attempt so failed ERP calls can be replayed.
type Payout struct {
	ID             string       `gorm:"column:id;primaryKey"`
	GrantID        string       `gorm:"column:grant_id;index"`
	RecipientID    string       `gorm:"column:recipient_id;index"`
	Kind           PayoutKind   `gorm:"column:kind;size:32"`
	PurchaseNumber int          `gorm:"column:purchase_number"`
	PurchaseAmount float64      `gorm:"column:purchase_amount"`
	Amount         float64      `gorm:"column:amount"`
	GiftID         *string      `gorm:"column:gift_id"`
	Status         PayoutStatus `gorm:"column:status;size:16"`
	Error          string       `gorm:"column:error"`
	CreatedAt      time.Time    `gorm:"column:created_at"`
}

func (Payout) TableName() string { return "referral_payouts" }

// GiftAward limits referrers to one gift per promotion.
type GiftAward struct {
	ID             string    `gorm:"column:id;primaryKey"`
	ReferrerID     string    `gorm:"column:referrer_id;uniqueIndex:ux_referral_gift_award"`
	PromotionID    string    `gorm:"column:promotion_id;uniqueIndex:ux_referral_gift_award"`
	ReferredUserID string    `gorm:"column:referred_user_id"`
	GiftID         string    `gorm:"column:gift_id"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

func (GiftAward) TableName() string { return "referral_gift_awards" }

func Models() []any {
	return []any{&Grant{}, &Payout{}, &GiftAward{}}
}
