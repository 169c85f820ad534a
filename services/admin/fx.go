package admin

import "go.uber.org/fx"

var Module = fx.Module("admin.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("admin.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
