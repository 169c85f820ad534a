package audit

import "go.uber.org/fx"

var Module = fx.Module("audit.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("audit.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
