package task

import (
	"activations-controlplane/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type entry struct {
	cron  string
	task  string
	queue string
}

var schedule = []entry{
	{cron: "@every 1m", task: taskname.PartnerSyncDrain, queue: taskname.QueueCritical},
	{cron: "@every 5m", task: taskname.SettlementReconcile, queue: taskname.QueueCritical},
	{cron: "@every 1h", task: taskname.RescrapeSweep, queue: taskname.QueueLow},
}

// RegisterSchedule adds the periodic tasks to the scheduler.
func RegisterSchedule(s *asynq.Scheduler) error {
	for _, e := range schedule {
		id, err := s.Register(e.cron, asynq.NewTask(e.task, nil), asynq.Queue(e.queue), asynq.MaxRetry(0))
		if err != nil {
			return err
		}
		zap.L().Info("[Scheduler] registered periodic task",
			zap.String("task", e.task),
			zap.String("cron", e.cron),
			zap.String("entry_id", id),
		)
	}
	return nil
}

// RegisterHandlers binds every task type to its handler.
func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(taskname.PartnerSyncDrain, svc.HandleDrainTask)
	mux.HandleFunc(taskname.SettlementReconcile, svc.HandleReconcileTask)
	mux.HandleFunc(taskname.SubmissionRescrape, svc.HandleRescrapeTask)
	mux.HandleFunc(taskname.RescrapeSweep, svc.HandleRescrapeSweep)
}
