package wallet

import "go.uber.org/fx"

var Module = fx.Module("wallet.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("wallet.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
