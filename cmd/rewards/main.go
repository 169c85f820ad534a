package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"promohive/pkg/access"
	"promohive/pkg/config"
	"promohive/pkg/db"
	"promohive/pkg/dns"
	"promohive/pkg/events"
	"promohive/pkg/featureflags"
	"promohive/pkg/gen"
	"promohive/pkg/hashistack/secretmanager"
	"promohive/pkg/health"
	"promohive/pkg/httpapi"
	"promohive/pkg/logger"
	"promohive/pkg/otelcol"
	"promohive/pkg/profiling"
	"promohive/pkg/ratelimit"
	"promohive/pkg/redis"
	"promohive/pkg/sequence"
	"promohive/pkg/server"
	"promohive/pkg/storage"
	"promohive/pkg/task"
	"promohive/services/account"
	"promohive/services/admin"
	"promohive/services/assignment"
	"promohive/services/audit"
	"promohive/services/catalog"
	"promohive/services/ledger"
	"promohive/services/level"
	"promohive/services/notification"
	"promohive/services/offerwall"
	"promohive/services/referral"
	"promohive/services/schema"
	"promohive/services/wallet"
	"promohive/services/withdrawal"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		schema.Module,
		redis.Module,
		gen.Module,
		sequence.Module,
		task.Client,
		events.Module,
		storage.Module,
		access.Module,
		ratelimit.Module,
		featureflags.Module,
		fx.Provide(emailDomains),
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,

		account.Module,
		ledger.Module,
		audit.Module,
		level.Module,
		wallet.Module,
		catalog.Module,
		referral.Module,
		assignment.Module,
		withdrawal.Module,
		admin.Module,
		offerwall.Module,
		notification.Module,

		account.HTTP,
		ledger.HTTP,
		audit.HTTP,
		level.HTTP,
		wallet.HTTP,
		catalog.HTTP,
		referral.HTTP,
		assignment.HTTP,
		withdrawal.HTTP,
		admin.HTTP,
		offerwall.HTTP,
		notification.HTTP,
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

// emailDomains enables MX checks at registration when configured.
func emailDomains(cfg *config.Config) account.DomainChecker {
	if !cfg.Registration.VerifyEmailDomain {
		return nil
	}
	return dns.NewResolver(cfg)
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
