package account

import (
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("account.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
