package access

import (
	"promohive/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("access",
	fx.Provide(
		ProvideEnforcer,
		func(e *Enforcer) Authorizer { return e },
	),
)

func ProvideEnforcer(cfg *config.Config) (*Enforcer, error) {
	ac := cfg.AccessControl
	if ac.Model != "" && ac.Policy != "" {
		zap.L().Info("[Access] loading casbin policy from files", zap.String("model", ac.Model), zap.String("policy", ac.Policy))
		return NewEnforcerFromFiles(ac.Model, ac.Policy)
	}
	return NewEnforcer()
}
