package level

import (
	"fmt"
	"time"

	"promohive/pkg/money"
)

// Level holds the economic parameters of a membership tier. They are read at
// the moment of use and never copied onto an account.
type Level struct {
	ID                  int         `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	Name                string      `gorm:"column:name;type:varchar(64);not null" json:"name"`
	UpgradePrice        money.Money `gorm:"column:upgrade_price;not null" json:"upgrade_price"`
	EarningSharePercent int64       `gorm:"column:earning_share_percent;not null" json:"earning_share_percent"`
	MinimumWithdrawal   money.Money `gorm:"column:minimum_withdrawal;not null" json:"minimum_withdrawal"`
	Description         string      `gorm:"column:description;type:varchar(500)" json:"description"`
	CreatedAt           time.Time   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt           time.Time   `gorm:"column:updated_at" json:"updated_at"`
}

func (Level) TableName() string { return "levels" }

// DefaultLadder is levels 0 through 9. Level n costs n*50.00 to reach, and
// the earning share starts at 15% and then goes 30%, 45% and +5% per level.
func DefaultLadder() []*Level {
	ladder := make([]*Level, 0, 10)
	for id := 0; id < 10; id++ {
		share := 15 + int64(id)*15
		if id > 2 {
			share = 45 + int64(id-2)*5
		}

		price := money.Cents(int64(id) * 5000)
		minimum := price
		desc := fmt.Sprintf("Upgrade price $%s - Earn %d%% of task value", price, share)
		if id == 0 {
			minimum = money.Cents(1000)
			desc = "Entry level - minimum withdrawal $10.00"
		}

		ladder = append(ladder, &Level{
			ID:                  id,
			Name:                fmt.Sprintf("Level %d", id),
			UpgradePrice:        price,
			EarningSharePercent: share,
			MinimumWithdrawal:   minimum,
			Description:         desc,
		})
	}
	return ladder
}

// UpdateParams carries optional changes; nil fields are left as they are.
type UpdateParams struct {
	Name                *string
	Description         *string
	UpgradePrice        *money.Money
	EarningSharePercent *int64
	MinimumWithdrawal   *money.Money
}
