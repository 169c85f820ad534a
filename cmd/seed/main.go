package main

import (
	"context"
	"errors"
	"log"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"promohive/pkg/access"
	"promohive/pkg/config"
	"promohive/pkg/db"
	"promohive/pkg/gen"
	"promohive/pkg/logger"
	"promohive/services/account"
	"promohive/services/audit"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/schema"
)

// seed migrates the schema, installs the default level ladder and, when
// SEED_ADMIN_USERNAME and SEED_ADMIN_EMAIL are set, an active super admin.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		access.Module,
		account.Module,
		ledger.Module,
		audit.Module,
		level.Module,
		fx.Invoke(run),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	_ = app.Stop(context.Background())
}

type seedParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB
	Accounts  *account.Service
	Levels    *level.Service
}

func run(p seedParams) {
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := schema.Migrate(p.DB); err != nil {
				return err
			}
			if err := p.Levels.Seed(ctx); err != nil {
				return err
			}
			zap.L().Info("[Seed] level ladder ready")
			return seedAdmin(ctx, p)
		},
	})
}

func seedAdmin(ctx context.Context, p seedParams) error {
	username, email := os.Getenv("SEED_ADMIN_USERNAME"), os.Getenv("SEED_ADMIN_EMAIL")
	if username == "" || email == "" {
		return nil
	}

	acc, err := p.Accounts.Register(ctx, account.RegisterParams{Username: username, Email: email})
	if errors.Is(err, account.ErrAlreadyExists) {
		zap.L().Info("[Seed] admin already present", zap.String("username", username))
		return nil
	}
	if err != nil {
		return err
	}

	return p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := p.Accounts.SetStatus(ctx, tx, acc.ID, account.StatusActive, acc.ID); err != nil {
			return err
		}
		if _, err := p.Accounts.SetRole(ctx, tx, acc.ID, access.RoleSuperAdmin); err != nil {
			return err
		}
		zap.L().Info("[Seed] super admin created", zap.String("account_id", acc.ID), zap.String("username", username))
		return nil
	})
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
