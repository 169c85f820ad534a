package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"promohive/pkg/access"
	"promohive/pkg/config"
	"promohive/pkg/db"
	"promohive/pkg/events"
	"promohive/pkg/gen"
	"promohive/pkg/hashistack/secretmanager"
	"promohive/pkg/logger"
	"promohive/pkg/otelcol"
	"promohive/pkg/profiling"
	"promohive/pkg/redis"
	"promohive/pkg/sequence"
	"promohive/pkg/task"
	"promohive/services/account"
	"promohive/services/audit"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/notification"
	"promohive/services/offerwall"
	"promohive/services/reconcile"
	"promohive/services/referral"
)

// The worker consumes ledger settlements and runs the periodic
// reconciliation and offer expiry jobs. It serves no HTTP routes.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		events.Module,
		task.Client,
		task.Server,
		task.Scheduler,

		access.Module,
		account.Module,
		ledger.Module,
		audit.Module,
		level.Module,
		referral.Module,
		offerwall.Module,
		offerwall.TaskModule,
		notification.Module,
		notification.TaskModule,
		reconcile.Module,
		reconcile.TaskModule,
		fxLogger,
	}

	if secretmanager.Enabled() {
		opts = append(opts, secretmanager.Module)
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
