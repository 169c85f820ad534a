package wallet

import "time"

// Wallet is a payout destination users may withdraw to.
type Wallet struct {
	ID        string    `gorm:"column:id;primaryKey;type:varchar(32)" json:"id"`
	Chain     string    `gorm:"column:chain;type:varchar(32);not null" json:"chain"`
	Currency  string    `gorm:"column:currency;type:varchar(16);not null" json:"currency"`
	Address   string    `gorm:"column:address;type:varchar(128);not null" json:"address"`
	Label     string    `gorm:"column:label;type:varchar(128)" json:"label"`
	IsActive  bool      `gorm:"column:is_active;index;not null;default:true" json:"is_active"`
	CreatedBy string    `gorm:"column:created_by;type:varchar(32)" json:"created_by"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Wallet) TableName() string { return "wallets" }

type CreateParams struct {
	Chain    string `json:"chain" binding:"required,max=32"`
	Currency string `json:"currency" binding:"required,max=16"`
	Address  string `json:"address" binding:"required,max=128"`
	Label    string `json:"label" binding:"max=128"`
}

type UpdateParams struct {
	Label    *string `json:"label" binding:"omitempty,max=128"`
	Address  *string `json:"address" binding:"omitempty,max=128"`
	IsActive *bool   `json:"is_active"`
}
