package level

import "go.uber.org/fx"

var Module = fx.Module("level.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("level.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
