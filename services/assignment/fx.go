package assignment

import "go.uber.org/fx"

var Module = fx.Module("assignment.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("assignment.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
