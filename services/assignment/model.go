package assignment

import (
	"time"

	"promohive/services/ledger"
	"promohive/services/referral"
)

type Status string

const (
	StatusAccepted     Status = "accepted"
	StatusInProgress   Status = "in_progress"
	StatusProofPending Status = "proof_pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
)

// Open reports whether the assignment is still being worked on or reviewed.
func (s Status) Open() bool {
	return s == StatusAccepted || s == StatusInProgress || s == StatusProofPending
}

// Assignment is one member's attempt at one task.
type Assignment struct {
	ID              string     `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	TaskID          string     `gorm:"column:task_id;index:idx_assignment_user_task,priority:2;type:varchar(32);not null" json:"task_id"`
	UserID          string     `gorm:"column:user_id;index:idx_assignment_user_task,priority:1;type:varchar(32);not null" json:"user_id"`
	Status          Status     `gorm:"column:status;index;type:varchar(16);not null" json:"status"`
	ProofURL        *string    `gorm:"column:proof_url;type:text" json:"proof_url,omitempty"`
	ProofText       *string    `gorm:"column:proof_text;type:text" json:"proof_text,omitempty"`
	ReviewedBy      *string    `gorm:"column:reviewed_by;type:varchar(32)" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time `gorm:"column:reviewed_at" json:"reviewed_at,omitempty"`
	RejectionReason *string    `gorm:"column:rejection_reason;type:text" json:"rejection_reason,omitempty"`
	CreditEntryID   *string    `gorm:"column:credit_entry_id;type:varchar(32)" json:"credit_entry_id,omitempty"`
	AcceptedAt      time.Time  `gorm:"column:accepted_at" json:"accepted_at"`
	SubmittedAt     *time.Time `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Assignment) TableName() string { return "task_assignments" }

type Proof struct {
	URL  string
	Text string
}

type ReviewParams struct {
	AssignmentID string
	Approved     bool
	Reason       string
	IPAddress    string
}

// ReviewResult is what a review produced. AlreadyApproved is set when the
// assignment had been approved before this call; Credit is then the credit
// that earlier approval booked and nothing new was written.
type ReviewResult struct {
	Assignment      *Assignment        `json:"assignment"`
	Credit          *ledger.Entry      `json:"credit,omitempty"`
	Referral        *referral.Referral `json:"referral,omitempty"`
	Bonus           *ledger.Entry      `json:"bonus,omitempty"`
	AlreadyApproved bool               `json:"already_approved"`
}
