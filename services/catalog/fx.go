package catalog

import "go.uber.org/fx"

var Module = fx.Module("catalog.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("catalog.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
