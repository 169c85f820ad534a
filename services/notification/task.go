package notification

import (
	"promohive/pkg/taskname"

	"github.com/hibiken/asynq"
)

func registerHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.LedgerEntrySettled, svc.HandleSettledTask)
}
