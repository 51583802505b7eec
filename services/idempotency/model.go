package idempotency

import (
	"time"

	"retail-loyalty/pkg/erp"
)

// ProcessedDocument is the durable marker of an ERP document already
// recorded for an operation.
type ProcessedDocument struct {
	ID          string        `gorm:"column:id;primaryKey" json:"id"`
	DocumentID  string        `gorm:"column:document_id;size:128;uniqueIndex:idx_processed_document_op" json:"document_id"`
	Operation   erp.Operation `gorm:"column:operation;size:16;uniqueIndex:idx_processed_document_op" json:"operation"`
	UserID      string        `gorm:"column:user_id;index" json:"user_id"`
	ProcessedAt time.Time     `gorm:"column:processed_at" json:"processed_at"`
}

func Models() []any {
	return []any{&ProcessedDocument{}}
}

// Key is the dedup key of a document and operation.
func Key(documentID string, op erp.Operation) string {
	return documentID + "_" + string(op)
}
