package notification

import "go.uber.org/fx"

var Module = fx.Module("notification.service",
	fx.Provide(NewService),
)

// TaskModule consumes ledger settlements; it needs the asynq server mux.
var TaskModule = fx.Module("notification.task",
	fx.Invoke(registerHandlers),
)

var HTTP = fx.Module("notification.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)
