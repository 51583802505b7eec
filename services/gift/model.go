package gift

import (
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSelected  Status = "selected"
	StatusActivated Status = "activated"
	StatusIssued    Status = "issued"
	// StatusDiscarded marks the losing siblings of a resolved group.
	StatusDiscarded Status = "discarded"
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSelected:
		return "selected"
	case StatusActivated:
		return "activated"
	case StatusIssued:
		return "issued"
	case StatusDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

type Source string

const (
	SourceLoyalty  Source = "loyalty"
	SourceReferral Source = "referral"
	SourceLottery  Source = "lottery"
	SourceAdmin    Source = "admin"
)

// A group offers between MinGroupSize and MaxGroupSize gifts.
const (
	MinGroupSize = 2
	MaxGroupSize = 4
)

type CatalogItem struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Name      string    `gorm:"column:name" json:"name"`
	Image     string    `gorm:"column:image" json:"image"`
	IsActive  bool      `gorm:"column:is_active" json:"is_active"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (CatalogItem) TableName() string { return "gift_catalog_items" }

type Gift struct {
	ID                 string     `gorm:"column:id;primaryKey" json:"id"`
	UserID             string     `gorm:"column:user_id;index" json:"user_id"`
	CatalogItemID      *string    `gorm:"column:catalog_item_id" json:"catalog_item_id,omitempty"`
	GroupID            *string    `gorm:"column:group_id;index" json:"group_id,omitempty"`
	Name               string     `gorm:"column:name" json:"name"`
	Image              string     `gorm:"column:image" json:"image"`
	Status             Status     `gorm:"column:status;size:16;index" json:"status"`
	Source             Source     `gorm:"column:source;size:16" json:"source"`
	SourceRef          string     `gorm:"column:source_ref" json:"source_ref,omitempty"`
	IsViewed           bool       `gorm:"column:is_viewed" json:"is_viewed"`
	IsActivated        bool       `gorm:"column:is_activated" json:"is_activated"`
	SelectedAt         *time.Time `gorm:"column:selected_at" json:"selected_at,omitempty"`
	ActivatedAt        *time.Time `gorm:"column:activated_at" json:"activated_at,omitempty"`
	IssuedAt           *time.Time `gorm:"column:issued_at" json:"issued_at,omitempty"`
	IssuanceCode       string     `gorm:"column:issuance_code" json:"-"`
	IssuedBy           string     `gorm:"column:issued_by" json:"-"`
	DiscardedForGiftID *string    `gorm:"column:discarded_for_gift_id" json:"-"`
	CreatedAt          time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// GroupResolution exists once per resolved group; the primary key on GroupID
// is what makes selection exclusive.
type GroupResolution struct {
	GroupID      string    `gorm:"column:group_id;primaryKey"`
	WinnerGiftID string    `gorm:"column:winner_gift_id"`
	UserID       string    `gorm:"column:user_id;index"`
	ResolvedBy   string    `gorm:"column:resolved_by"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (GroupResolution) TableName() string { return "gift_group_resolutions" }

type Group struct {
	GroupID string  `json:"group_id"`
	Source  Source  `json:"source"`
	Gifts   []*Gift `json:"gifts"`
}

func Models() []any {
	return []any{&CatalogItem{}, &Gift{}, &GroupResolution{}}
}
