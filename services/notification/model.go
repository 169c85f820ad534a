package notification

import (
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeDeposit      Type = "deposit"
	TypeWithdrawal   Type = "withdrawal"
	TypeReferral     Type = "referral"
	TypeLevelUpgrade Type = "level_upgrade"
	TypeProofReview  Type = "proof_review"
	TypeSystem       Type = "system"
)

// Notification is a message in a member's inbox. EntryID is set when it was
// produced by a ledger settlement and makes redelivery a no-op.
type Notification struct {
	ID        string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	UserID    string         `gorm:"column:user_id;index:idx_notification_user_read,priority:1;type:varchar(32);not null" json:"user_id"`
	EntryID   *string        `gorm:"column:entry_id;uniqueIndex;type:varchar(32)" json:"entry_id,omitempty"`
	Title     string         `gorm:"column:title;type:varchar(256);not null" json:"title"`
	Body      string         `gorm:"column:body;type:text;not null" json:"body"`
	Type      Type           `gorm:"column:type;type:varchar(32);not null" json:"type"`
	IsRead    bool           `gorm:"column:is_read;index:idx_notification_user_read,priority:2;not null;default:false" json:"is_read"`
	Metadata  datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
