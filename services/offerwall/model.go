package offerwall

import (
	"time"

	"promohive/pkg/money"
	"promohive/services/ledger"
)

type OfferStatus string

const (
	OfferActive   OfferStatus = "active"
	OfferInactive OfferStatus = "inactive"
	OfferExpired  OfferStatus = "expired"
)

// Offer is a cached offerwall listing. Reward is what the member sees;
// Payout is what the network pays us.
type Offer struct {
	ID          string      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	OfferID     string      `gorm:"column:offer_id;uniqueIndex;type:varchar(128);not null" json:"offer_id"`
	Title       string      `gorm:"column:title;type:varchar(256);not null" json:"title"`
	Description string      `gorm:"column:description;type:text" json:"description"`
	Reward      money.Money `gorm:"column:reward;not null" json:"reward"`
	Payout      money.Money `gorm:"column:payout;not null" json:"payout"`
	MinLevel    int         `gorm:"column:min_level;not null;default:0" json:"min_level"`
	Status      OfferStatus `gorm:"column:status;index;type:varchar(16);not null" json:"status"`
	ExternalURL string      `gorm:"column:external_url;type:text" json:"external_url"`
	CachedAt    time.Time   `gorm:"column:cached_at" json:"cached_at"`
	ExpiresAt   *time.Time  `gorm:"column:expires_at" json:"expires_at,omitempty"`
}

func (Offer) TableName() string { return "offerwall_offers" }

// Completion records one postback. TxRef is the network's transaction id and
// is unique, so a replayed postback never pays twice.
type Completion struct {
	ID            string      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TxRef         string      `gorm:"column:tx_ref;uniqueIndex;type:varchar(128);not null" json:"tx_ref"`
	UserID        string      `gorm:"column:user_id;index;type:varchar(32);not null" json:"user_id"`
	OfferID       string      `gorm:"column:offer_id;type:varchar(128);not null" json:"offer_id"`
	Earned        money.Money `gorm:"column:earned;not null" json:"earned"`
	SharePercent  int64       `gorm:"column:share_percent;not null" json:"share_percent"`
	Reward        money.Money `gorm:"column:reward;not null" json:"reward"`
	LedgerEntryID *string     `gorm:"column:ledger_entry_id;type:varchar(32)" json:"ledger_entry_id,omitempty"`
	CreatedAt     time.Time   `gorm:"column:created_at" json:"created_at"`
}

func (Completion) TableName() string { return "offerwall_completions" }

type CompletionParams struct {
	UserID  string
	OfferID string
	TxRef   string
	Earned  money.Money
}

type CompletionResult struct {
	Completion *Completion   `json:"completion"`
	Credit     *ledger.Entry `json:"credit,omitempty"`
	Bonus      *ledger.Entry `json:"referral_bonus,omitempty"`
	Duplicate  bool          `json:"duplicate"`
}

type OfferParams struct {
	OfferID     string      `json:"offer_id" binding:"required,max=128"`
	Title       string      `json:"title" binding:"required,max=256"`
	Description string      `json:"description"`
	Reward      money.Money `json:"reward"`
	Payout      money.Money `json:"payout"`
	MinLevel    int         `json:"min_level" binding:"min=0"`
	ExternalURL string      `json:"external_url"`
	ExpiresAt   *time.Time  `json:"expires_at"`
}
