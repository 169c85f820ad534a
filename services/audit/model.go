package audit

import (
	"time"

	"gorm.io/datatypes"
)

// Log is an administrative action. It is written for actions that move money
// and for those that do not.
type Log struct {
	ID         string         `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	AdminID    string         `gorm:"column:admin_id;index;type:varchar(32);not null" json:"admin_id"`
	Action     string         `gorm:"column:action;index;type:varchar(64);not null" json:"action"`
	TargetType string         `gorm:"column:target_type;type:varchar(32)" json:"target_type"`
	TargetID   string         `gorm:"column:target_id;index;type:varchar(32)" json:"target_id"`
	Metadata   datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`
	IPAddress  string         `gorm:"column:ip_address;type:varchar(64)" json:"ip_address,omitempty"`
	CreatedAt  time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (Log) TableName() string { return "audit_logs" }

type Entry struct {
	AdminID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
	IPAddress  string
}

type Filter struct {
	AdminID    string `form:"admin_id"`
	Action     string `form:"action"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
}
