// Package schema owns the table set of the rewards service.
package schema

import (
	"promohive/pkg/config"
	"promohive/services/account"
	"promohive/services/assignment"
	"promohive/services/audit"
	"promohive/services/catalog"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/notification"
	"promohive/services/offerwall"
	"promohive/services/referral"
	"promohive/services/wallet"
	"promohive/services/withdrawal"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates the schema at start when DATABASE.AUTO_MIGRATE is set.
var Module = fx.Module("schema",
	fx.Invoke(func(cfg *config.Config, db *gorm.DB) error {
		if !cfg.Database.AutoMigrate {
			return nil
		}
		return Migrate(db)
	}),
)

func Models() []any {
	return []any{
		&account.Account{},
		&level.Level{},
		&ledger.Entry{},
		&audit.Log{},
		&wallet.Wallet{},
		&catalog.Task{},
		&assignment.Assignment{},
		&referral.Referral{},
		&withdrawal.Request{},
		&offerwall.Offer{},
		&offerwall.Completion{},
		&notification.Notification{},
	}
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		zap.L().Error("[DB] auto migration failed", zap.Error(err))
		return err
	}
	zap.L().Info("[DB] schema migrated", zap.Int("tables", len(Models())))
	return nil
}
