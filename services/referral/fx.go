package referral

import "go.uber.org/fx"

var Module = fx.Module("referral.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("referral.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
