package transaction

import (
	"time"

	"retail-loyalty/pkg/erp"
)

// PurchaseRecord is one accepted "add" event. Totals and purchase counts are
// derived from these rows only.
type PurchaseRecord struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	UserID      string    `gorm:"column:user_id;index" json:"user_id"`
	Amount      float64   `gorm:"column:amount" json:"amount"`
	DocumentID  string    `gorm:"column:document_id;size:128;index" json:"document_id,omitempty"`
	PurchasedAt time.Time `gorm:"column:purchased_at" json:"purchased_at"`
	CreatedAt   time.Time `gorm:"column:created_at" json:"created_at"`
}

// Event is the append-only audit row of every accepted webhook item.
type Event struct {
	ID             string        `gorm:"column:id;primaryKey" json:"id"`
	UserID         string        `gorm:"column:user_id;index" json:"user_id"`
	Kind           erp.Operation `gorm:"column:kind;size:16" json:"kind"`
	Amount         float64       `gorm:"column:amount" json:"amount"`
	PurchaseAmount float64       `gorm:"column:purchase_amount" json:"purchase_amount"`
	PurchaseID     *string       `gorm:"column:purchase_id" json:"purchase_id,omitempty"`
	DocumentID     string        `gorm:"column:document_id;size:128" json:"document_id,omitempty"`
	AccruedAt      time.Time     `gorm:"column:accrued_at" json:"accrued_at"`
	CreatedAt      time.Time     `gorm:"column:created_at" json:"created_at"`
}

func (Event) TableName() string {
	return "transaction_events"
}

func Models() []any {
	return []any{&PurchaseRecord{}, &Event{}}
}

// WebhookItem is one element of the ERP transaction batch.
type WebhookItem struct {
	UserID           string        `json:"userId"`
	Operation        erp.Operation `json:"operation"`
	PurchaseAmount   float64       `json:"purchaseAmount"`
	BonusAmount      float64       `json:"bonusAmount"`
	BonusAccrualDate string        `json:"bonusAccrualDate"`
	DocumentID       string        `json:"documentId,omitempty"`
	WithDelay        bool          `json:"withDelay,omitempty"`
}

type BatchResult struct {
	Message        string `json:"message"`
	Processed      int    `json:"processed"`
	LoyaltyUpdates int    `json:"loyalty_updates"`
}
