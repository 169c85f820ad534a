package offerwall

import (
	"context"
	"time"

	"promohive/pkg/logger"
	"promohive/pkg/task"
	"promohive/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func (s *Service) handleExpireTask(ctx context.Context, _ *asynq.Task) error {
	n, err := s.ExpireOffers(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.FromContext(ctx).Info("offers expired", zap.Int64("count", n))
	}
	return nil
}

func registerHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.OfferwallExpire, svc.handleExpireTask)
}

func provideSchedule() task.Periodic {
	return task.Periodic{
		Spec: "@every 15m",
		Task: asynq.NewTask(taskname.OfferwallExpire, nil),
		Opts: []asynq.Option{asynq.Queue(task.QueueLow), asynq.Unique(10 * time.Minute)},
	}
}
