package withdrawal

import "go.uber.org/fx"

var Module = fx.Module("withdrawal.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("withdrawal.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
