package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"promohive/pkg/money"
	"promohive/services/account"

	"gorm.io/datatypes"
)

type Kind string

const (
	KindDeposit       Kind = "deposit"
	KindWithdrawal    Kind = "withdrawal"
	KindCredit        Kind = "credit"
	KindDebit         Kind = "debit"
	KindReferralBonus Kind = "referral_bonus"
	KindLevelUpgrade  Kind = "level_upgrade"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// GenesisHash is the previous hash of an account's first entry.
const GenesisHash = "GENESIS"

// Direction is the only direction an entry of kind k may take.
func (k Kind) Direction() (Direction, bool) {
	switch k {
	case KindDeposit, KindCredit, KindReferralBonus:
		return DirectionCredit, true
	case KindWithdrawal, KindDebit, KindLevelUpgrade:
		return DirectionDebit, true
	default:
		return "", false
	}
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Entry is one balance-affecting event. Amount is always a positive magnitude;
// Direction carries the sign. A completed entry is never modified again.
type Entry struct {
	ID                      string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	AccountID               string         `gorm:"column:account_id;index:idx_ledger_account_created,priority:1;type:varchar(32);not null" json:"account_id"`
	Kind                    Kind           `gorm:"column:kind;type:varchar(32);not null" json:"kind"`
	Amount                  money.Money    `gorm:"column:amount;not null" json:"amount"`
	Direction               Direction      `gorm:"column:direction;type:varchar(8);not null" json:"direction"`
	Status                  Status         `gorm:"column:status;index;type:varchar(16);not null" json:"status"`
	TransactionID           string         `gorm:"column:transaction_id;uniqueIndex;type:varchar(32);not null" json:"transaction_id"`
	RelatedTaskAssignmentID *string        `gorm:"column:related_task_assignment_id;index;type:varchar(32)" json:"related_task_assignment_id,omitempty"`
	RelatedWithdrawalID     *string        `gorm:"column:related_withdrawal_id;index;type:varchar(32)" json:"related_withdrawal_id,omitempty"`
	WalletID                *string        `gorm:"column:wallet_id;type:varchar(32)" json:"wallet_id,omitempty"`
	ReversalOf              *string        `gorm:"column:reversal_of;uniqueIndex;type:varchar(32)" json:"reversal_of,omitempty"`
	Description             string         `gorm:"column:description;type:varchar(500)" json:"description"`
	Metadata                datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	PreviousHash            string         `gorm:"column:previous_hash;type:varchar(64);not null" json:"previous_hash"`
	Hash                    string         `gorm:"column:hash;type:varchar(64);not null" json:"hash"`
	CreatedAt               time.Time      `gorm:"column:created_at;index:idx_ledger_account_created,priority:2" json:"created_at"`
	UpdatedAt               time.Time      `gorm:"column:updated_at" json:"updated_at"`
	SettledAt               *time.Time     `gorm:"column:settled_at" json:"settled_at,omitempty"`
}

func (Entry) TableName() string { return "ledger_entries" }

// Signed is the amount as it moves the balance: positive for credits.
func (e *Entry) Signed() money.Money {
	if e.Direction == DirectionDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Delta is the account mutation the entry applies once completed. Earnings
// count credits and referral bonuses; reversals never count.
func (e *Entry) Delta() account.Delta {
	original := e.ReversalOf == nil
	return account.Delta{
		AccountID:      e.AccountID,
		Amount:         e.Signed(),
		CountEarned:    original && (e.Kind == KindCredit || e.Kind == KindReferralBonus),
		CountWithdrawn: original && e.Kind == KindWithdrawal,
	}
}

func optional(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// HashFields are the immutable fields covered by the chain hash. Status is
// excluded because a pending entry settles later.
func (e *Entry) HashFields() map[string]string {
	return map[string]string{
		"id":                         e.ID,
		"account_id":                 e.AccountID,
		"kind":                       string(e.Kind),
		"direction":                  string(e.Direction),
		"amount":                     fmt.Sprintf("%d", e.Amount.Int64()),
		"transaction_id":             e.TransactionID,
		"related_task_assignment_id": optional(e.RelatedTaskAssignmentID),
		"related_withdrawal_id":      optional(e.RelatedWithdrawalID),
		"reversal_of":                optional(e.ReversalOf),
		"created_at":                 e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":              e.PreviousHash,
	}
}

func (e *Entry) GenerateHash() string {
	fields := e.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

type RecordParams struct {
	AccountID string
	Kind      Kind
	Amount    money.Money
	// Direction is optional; when set it must agree with Kind.
	Direction Direction
	// Status is pending or completed. Empty means completed.
	Status                  Status
	RelatedTaskAssignmentID string
	RelatedWithdrawalID     string
	WalletID                string
	TransactionID           string
	ReversalOf              string
	Description             string
	Metadata                map[string]any
}

// Summary is an account balance recomputed from its completed entries.
type Summary struct {
	Credits money.Money `json:"credits"`
	Debits  money.Money `json:"debits"`
}

func (s Summary) Net() money.Money { return s.Credits.Sub(s.Debits) }

type ReconcileResult struct {
	AccountID     string      `json:"account_id"`
	Balance       money.Money `json:"balance"`
	LedgerBalance money.Money `json:"ledger_balance"`
	ChainValid    bool        `json:"chain_valid"`
}

func (r ReconcileResult) Consistent() bool {
	return r.ChainValid && r.Balance == r.LedgerBalance
}
