package notification

import (
	"time"

	"gorm.io/datatypes"
)

type Kind string

const (
	KindBonusAccrued    Kind = "bonus_accrued"
	KindBonusWrittenOff Kind = "bonus_written_off"
	KindLevelAchieved   Kind = "level_achieved"
	KindGiftAssigned    Kind = "gift_assigned"
	KindGiftIssued      Kind = "gift_issued"
	KindReferralJoined  Kind = "referral_joined"
	KindReferralReward  Kind = "referral_reward"
)

// Message is everything the delivery side needs; nothing is looked up from
// shared state when the task runs.
type Message struct {
	UserID    string            `json:"user_id"`
	Kind      Kind              `json:"kind"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	WithDelay bool              `json:"with_delay"`
}

// Notification is the persisted inbox entry.
type Notification struct {
	ID        string         `gorm:"column:id;primaryKey" json:"id"`
	UserID    string         `gorm:"column:user_id;index" json:"user_id"`
	Kind      Kind           `gorm:"column:kind;size:32" json:"kind"`
	Title     string         `gorm:"column:title" json:"title"`
	Body      string         `gorm:"column:body" json:"body"`
	Data      datatypes.JSON `gorm:"column:data" json:"data,omitempty"`
	WithDelay bool           `gorm:"column:with_delay" json:"with_delay"`
	SentAt    *time.Time     `gorm:"column:sent_at" json:"sent_at,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
}

func Models() []any {
	return []any{&Notification{}}
}
