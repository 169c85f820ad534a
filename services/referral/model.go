package referral

import (
	"time"

	"promohive/pkg/money"
)

type RewardStatus string

const (
	RewardPending   RewardStatus = "pending"
	RewardCredited  RewardStatus = "credited"
	RewardCancelled RewardStatus = "cancelled"
)

// DirectTier is the only tier paid. Deeper tiers are reserved.
const DirectTier = 1

// Referral is one bonus paid to a referrer for one qualifying earning event
// of the member they referred. SourceEntryID is the ledger entry that earned
// it; the unique index over the triple makes payment at most once.
type Referral struct {
	ID            string       `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	ReferrerID    string       `gorm:"column:referrer_id;uniqueIndex:uq_referral_source,priority:1;type:varchar(32);not null" json:"referrer_id"`
	ReferredID    string       `gorm:"column:referred_id;uniqueIndex:uq_referral_source,priority:2;type:varchar(32);not null" json:"referred_id"`
	SourceEntryID string       `gorm:"column:source_entry_id;uniqueIndex:uq_referral_source,priority:3;type:varchar(32);not null" json:"source_entry_id"`
	RewardAmount  money.Money  `gorm:"column:reward_amount;not null" json:"reward_amount"`
	RewardStatus  RewardStatus `gorm:"column:reward_status;type:varchar(16);not null" json:"reward_status"`
	LedgerEntryID *string      `gorm:"column:ledger_entry_id;type:varchar(32)" json:"ledger_entry_id,omitempty"`
	Tier          int          `gorm:"column:tier;not null;default:1" json:"tier"`
	CreatedAt     time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (Referral) TableName() string { return "referrals" }

// Stats summarises what a referrer has earned from referrals.
type Stats struct {
	Referred      int64       `json:"referred"`
	Payouts       int64       `json:"payouts"`
	TotalCredited money.Money `json:"total_credited"`
}
