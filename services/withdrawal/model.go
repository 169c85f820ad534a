package withdrawal

import (
	"time"

	"promohive/pkg/money"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Request asks for Amount to be paid out to WalletID. It holds a pending
// withdrawal entry that only debits the balance once an admin approves.
type Request struct {
	ID              string      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Reference       string      `gorm:"column:reference;uniqueIndex;type:varchar(32);not null" json:"reference"`
	UserID          string      `gorm:"column:user_id;index;type:varchar(32);not null" json:"user_id"`
	Amount          money.Money `gorm:"column:amount;not null" json:"amount"`
	WalletID        string      `gorm:"column:wallet_id;type:varchar(32);not null" json:"wallet_id"`
	Status          Status      `gorm:"column:status;index;type:varchar(16);not null" json:"status"`
	LedgerEntryID   string      `gorm:"column:ledger_entry_id;type:varchar(32);not null" json:"ledger_entry_id"`
	RejectionReason *string     `gorm:"column:rejection_reason;type:text" json:"rejection_reason,omitempty"`
	ApprovedBy      *string     `gorm:"column:approved_by;type:varchar(32)" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time  `gorm:"column:approved_at" json:"approved_at,omitempty"`
	CompletedAt     *time.Time  `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (Request) TableName() string { return "withdrawal_requests" }

type Decision struct {
	RequestID string
	Reason    string
	IPAddress string
}
