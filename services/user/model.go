package user

import (
	"strings"
	"time"
)

type User struct {
	ID              string     `gorm:"column:id;primaryKey" json:"id"`
	Phone           string     `gorm:"column:phone;size:20;uniqueIndex" json:"phone"`
	Name            string     `gorm:"column:name" json:"name"`
	BirthDate       *time.Time `gorm:"column:birth_date" json:"birth_date,omitempty"`
	PromoCode       string     `gorm:"column:promo_code;size:32;index" json:"promo_code"`
	BonusBalance    float64    `gorm:"column:bonus_balance" json:"bonus_balance"`
	DiscountPercent float64    `gorm:"column:discount_percent" json:"discount_percent"`
	ReferrerID      *string    `gorm:"column:referrer_id;index" json:"referrer_id,omitempty"`
	UsedPromoCode   bool       `gorm:"column:used_promo_code" json:"used_promo_code"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// HasReferral reports whether the user joined through someone's promo code.
func (u *User) HasReferral() bool {
	return u.UsedPromoCode && u.ReferrerID != nil && *u.ReferrerID != ""
}

// NormalizePhone reduces a phone to digits in international form.
// "8XXXXXXXXXX" becomes "7XXXXXXXXXX" and bare 10 digit numbers get
// countryCode prepended. It returns "" when fewer than 10 digits remain.
func NormalizePhone(raw, countryCode string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) < 10:
		return ""
	case len(digits) == 10:
		return countryCode + digits
	case len(digits) == 11 && digits[0] == '8' && countryCode == "7":
		return "7" + digits[1:]
	default:
		return digits
	}
}
