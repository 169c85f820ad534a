package reconcile

import "go.uber.org/fx"

var Module = fx.Module("reconcile.service",
	fx.Provide(NewService),
)

// TaskModule handles ledger:reconcile and schedules it on RECONCILE.SCHEDULE.
var TaskModule = fx.Module("reconcile.task",
	fx.Provide(fx.Annotate(provideSchedule, fx.ResultTags(`group:"periodic_tasks"`))),
	fx.Invoke(registerHandlers),
)
