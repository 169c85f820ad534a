package account

import (
	"time"

	"promohive/pkg/access"
	"promohive/pkg/money"
)

type Status string

var (
	StatusPendingApproval Status = "pending_approval"
	StatusActive          Status = "active"
	StatusSuspended       Status = "suspended"
	StatusBanned          Status = "banned"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPendingApproval, StatusActive, StatusSuspended, StatusBanned:
		return true
	default:
		return false
	}
}

// Account is the single source of truth for a member's money. Balance is
// only ever changed by ApplyDelta, inside the transaction that writes the
// paired ledger entry.
type Account struct {
	ID             string      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Username       string      `gorm:"column:username;uniqueIndex;type:varchar(64);not null" json:"username"`
	Email          string      `gorm:"column:email;uniqueIndex;type:varchar(255);not null" json:"email"`
	Balance        money.Money `gorm:"column:balance;not null;default:0" json:"balance"`
	TotalEarned    money.Money `gorm:"column:total_earned;not null;default:0" json:"total_earned"`
	TotalWithdrawn money.Money `gorm:"column:total_withdrawn;not null;default:0" json:"total_withdrawn"`
	LevelID        int         `gorm:"column:level_id;not null;default:0" json:"level_id"`
	ReferrerID     *string     `gorm:"column:referrer_id;index;type:varchar(32)" json:"referrer_id,omitempty"`
	ReferralCode   string      `gorm:"column:referral_code;uniqueIndex;type:varchar(64);not null" json:"referral_code"`
	Status         Status      `gorm:"column:status;type:varchar(32);not null;default:'pending_approval'" json:"status"`
	Role           access.Role `gorm:"column:role;type:varchar(32);not null;default:'user'" json:"role"`
	ApprovedBy     *string     `gorm:"column:approved_by;type:varchar(32)" json:"approved_by,omitempty"`
	ApprovedAt     *time.Time  `gorm:"column:approved_at" json:"approved_at,omitempty"`
	CreatedAt      time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) IsActive() bool { return a.Status == StatusActive }

// Delta is a signed balance change. CountEarned adds a positive amount to
// total_earned; CountWithdrawn adds the magnitude of a negative amount to
// total_withdrawn. Both counters move in the same statement as the balance.
type Delta struct {
	AccountID      string
	Amount         money.Money
	CountEarned    bool
	CountWithdrawn bool
}

type RegisterParams struct {
	Username     string
	Email        string
	ReferralCode string
}
