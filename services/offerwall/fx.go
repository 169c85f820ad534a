package offerwall

import "go.uber.org/fx"

var Module = fx.Module("offerwall.service",
	fx.Provide(NewService),
)

var HTTP = fx.Module("offerwall.http",
	fx.Provide(NewHandler),
	fx.Invoke(func(h *Handler) { h.Register() }),
)

var TaskModule = fx.Module("offerwall.task",
	fx.Provide(fx.Annotate(provideSchedule, fx.ResultTags(`group:"periodic_tasks"`))),
	fx.Invoke(registerHandlers),
)
