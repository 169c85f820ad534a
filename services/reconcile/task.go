package reconcile

import (
	"context"
	"time"

	"promohive/pkg/config"
	"promohive/pkg/task"
	"promohive/pkg/taskname"

	"github.com/hibiken/asynq"
)

func NewTask() *asynq.Task {
	return asynq.NewTask(taskname.LedgerReconcile, nil)
}

// HandleTask runs a full sweep. A report with mismatches is still a success;
// only failures to read are retried.
func (s *Service) HandleTask(ctx context.Context, _ *asynq.Task) error {
	_, err := s.Run(ctx)
	return err
}

func registerHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.LedgerReconcile, svc.HandleTask)
}

func provideSchedule(cfg *config.Config) task.Periodic {
	spec := cfg.Reconcile.Schedule
	if spec == "" {
		spec = "@daily"
	}
	return task.Periodic{
		Spec: spec,
		Task: NewTask(),
		Opts: []asynq.Option{asynq.Queue(task.QueueLow), asynq.Unique(time.Hour)},
	}
}
