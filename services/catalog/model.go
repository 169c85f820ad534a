package catalog

import (
	"time"

	"promohive/pkg/money"
)

type Type string

const (
	TypeSurvey    Type = "survey"
	TypeMarketing Type = "marketing"
	TypeReferral  Type = "referral"
	TypeLearning  Type = "learning"
	TypeTrading   Type = "trading"
	TypeManual    Type = "manual"
)

func (t Type) Valid() bool {
	switch t {
	case TypeSurvey, TypeMarketing, TypeReferral, TypeLearning, TypeTrading, TypeManual:
		return true
	}
	return false
}

type ProofType string

const (
	ProofImage ProofType = "image"
	ProofVideo ProofType = "video"
	ProofLink  ProofType = "link"
	ProofText  ProofType = "text"
)

func (p ProofType) Valid() bool {
	switch p {
	case ProofImage, ProofVideo, ProofLink, ProofText:
		return true
	}
	return false
}

// Uploaded reports whether proof of this type is a file stored in the bucket.
func (p ProofType) Uploaded() bool { return p == ProofImage || p == ProofVideo }

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// DefaultSlots applies when a task is created without a capacity.
const DefaultSlots = 100

// MaxReward caps a task reward at 10000.00.
const MaxReward = money.Money(1_000_000)

// Task is a unit of work members accept and prove. Slots of 0 means unlimited.
type Task struct {
	ID               string      `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Title            string      `gorm:"column:title;type:varchar(256);not null" json:"title"`
	Description      string      `gorm:"column:description;type:text;not null" json:"description"`
	Type             Type        `gorm:"column:type;type:varchar(32);not null" json:"type"`
	RewardAmount     money.Money `gorm:"column:reward_amount;not null" json:"reward_amount"`
	EligibilityLevel int         `gorm:"column:eligibility_level;not null;default:0" json:"eligibility_level"`
	EligibilityRule  string      `gorm:"column:eligibility_rule;type:varchar(1024)" json:"eligibility_rule,omitempty"`
	Slots            int         `gorm:"column:slots;not null;default:0" json:"slots"`
	ActiveSlots      int         `gorm:"column:active_slots;not null;default:0" json:"active_slots"`
	TimeLimitMinutes *int        `gorm:"column:time_limit_minutes" json:"time_limit_minutes,omitempty"`
	ProofType        ProofType   `gorm:"column:proof_type;type:varchar(16);not null" json:"proof_type"`
	Repeatable       bool        `gorm:"column:repeatable;not null;default:false" json:"repeatable"`
	Status           Status      `gorm:"column:status;index;type:varchar(16);not null;default:'active'" json:"status"`
	CreatedBy        string      `gorm:"column:created_by;type:varchar(32)" json:"created_by"`
	CreatedAt        time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }

func (t *Task) IsActive() bool { return t.Status == StatusActive }

// HasCapacity reports whether another assignment may reserve a slot.
func (t *Task) HasCapacity() bool { return t.Slots == 0 || t.ActiveSlots < t.Slots }

type CreateParams struct {
	Title            string
	Description      string
	Type             Type
	RewardAmount     money.Money
	EligibilityLevel int
	// EligibilityRule is an optional CEL expression over member attributes,
	// e.g. "account_age_days >= 7 && total_earned >= 1000".
	EligibilityRule string
	Slots            int
	TimeLimitMinutes *int
	ProofType        ProofType
	Repeatable       bool
}

type UpdateParams struct {
	Title        *string
	Description  *string
	Status       *Status
	RewardAmount *money.Money
}
