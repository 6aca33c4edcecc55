package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"activations-controlplane/pkg/config"
	"activations-controlplane/pkg/errutil"
	"activations-controlplane/pkg/logger"
	"activations-controlplane/pkg/repository"
	pkgtask "activations-controlplane/pkg/task"
	"activations-controlplane/pkg/taskname"
	"activations-controlplane/services/activation"
	"activations-controlplane/services/metrics"
	"activations-controlplane/services/partnersync"
	"activations-controlplane/services/settlement"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// rescrapeUnique keeps one pending rescrape per activation.
const rescrapeUnique = 10 * time.Minute

type Drainer interface {
	Drain(ctx context.Context, limit int) (partnersync.DrainResult, error)
}

type Refresher interface {
	RefreshActivation(ctx context.Context, activationID string) (metrics.RefreshResult, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, limit int) (int, error)
}

type LiveLister interface {
	LiveIDs(ctx context.Context, t activation.Type) ([]string, error)
}

type Service struct {
	node     *snowflake.Node
	enqueuer pkgtask.Enqueuer
	now      func() time.Time

	drainBatch     int
	reconcileBatch int

	drainer    Drainer
	refresher  Refresher
	reconciler Reconciler
	live       LiveLister
	jobs       repository.Repository[Job]
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Config   *config.Config
	Enqueuer pkgtask.Enqueuer

	Sync        *partnersync.Service
	Metrics     *metrics.Service
	Settlement  *settlement.Service
	Activations *activation.Service
}

func NewService(p Params) *Service {
	return &Service{
		node:     p.Node,
		enqueuer: p.Enqueuer,
		now:      time.Now,

		drainBatch:     p.Config.PartnerSync.DrainBatch,
		reconcileBatch: p.Config.Settlement.ReconcileBatch,

		drainer:    p.Sync,
		refresher:  p.Metrics,
		reconciler: p.Settlement,
		live:       p.Activations,
		jobs:       repository.ProvideStore[Job](p.DB),
	}
}

// EnqueueRescrape records a pending job and queues a metrics refresh for one
// activation.
func (s *Service) EnqueueRescrape(ctx context.Context, activationID string) (*Job, error) {
	job := &Job{
		ID:           s.node.Generate().String(),
		Task:         taskname.SubmissionRescrape,
		ActivationID: activationID,
		Status:       JobPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, errutil.Internal("failed to record job", err)
	}

	payload, _ := json.Marshal(RescrapePayload{ActivationID: activationID, JobID: job.ID})
	_, err := s.enqueuer.Enqueue(ctx, asynq.NewTask(taskname.SubmissionRescrape, payload),
		asynq.Queue(taskname.QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(rescrapeUnique),
	)
	if err != nil {
		s.finish(ctx, job, err, nil)
		if errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, errutil.Conflict("a metrics refresh is already queued for this activation", err)
		}
		return nil, errutil.ServiceUnavailable("failed to queue metrics refresh", err)
	}

	zap.L().Info("enqueued rescrape job",
		zap.String("activation_id", activationID),
		zap.String("job_id", job.ID),
	)
	return job, nil
}

// EnqueueLiveRescrapes queues a refresh for every live contest. It returns
// how many were queued.
func (s *Service) EnqueueLiveRescrapes(ctx context.Context) (int, error) {
	ids, err := s.live.LiveIDs(ctx, activation.TypeContest)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, id := range ids {
		if _, err := s.EnqueueRescrape(ctx, id); err != nil {
			if errutil.Is(err, errutil.StatusConflict) {
				continue
			}
			zap.L().Error("failed to enqueue rescrape", zap.String("activation_id", id), zap.Error(err))
			continue
		}
		queued++
	}
	return queued, nil
}

func (s *Service) start(ctx context.Context, jobID, taskName, activationID string) *Job {
	now := s.now().UTC()
	if jobID != "" {
		if err := s.jobs.Update(ctx, jobID, map[string]any{"status": JobRunning, "started_at": now}); err == nil {
			return &Job{ID: jobID, Task: taskName, ActivationID: activationID, Status: JobRunning, StartedAt: &now}
		}
	}

	job := &Job{
		ID:           s.node.Generate().String(),
		Task:         taskName,
		ActivationID: activationID,
		Status:       JobRunning,
		StartedAt:    &now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		zap.L().Error("failed to record job", zap.String("task", taskName), zap.Error(err))
	}
	return job
}

func (s *Service) finish(ctx context.Context, job *Job, runErr error, result any) {
	now := s.now().UTC()
	updates := map[string]any{"status": JobSuccess, "completed_at": now, "error_msg": ""}
	if runErr != nil {
		updates["status"] = JobFailed
		updates["error_msg"] = runErr.Error()
	}
	if result != nil {
		if b, err := json.Marshal(result); err == nil {
			updates["metadata"] = datatypes.JSON(b)
		}
	}
	if err := s.jobs.Update(ctx, job.ID, updates); err != nil {
		zap.L().Error("failed to update job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// HandleRescrapeTask is the asynq handler for submission:rescrape.
func (s *Service) HandleRescrapeTask(ctx context.Context, t *asynq.Task) error {
	var payload RescrapePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid rescrape payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	zapLog := logger.WithTrace(ctx, zap.String("activation_id", payload.ActivationID))

	job := s.start(ctx, payload.JobID, taskname.SubmissionRescrape, payload.ActivationID)
	res, err := s.refresher.RefreshActivation(ctx, payload.ActivationID)
	s.finish(ctx, job, err, res)
	if err != nil {
		switch errutil.StatusOf(err) {
		case errutil.StatusConflict, errutil.StatusNotFound:
			zapLog.Info("rescrape skipped", zap.Error(err))
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		zapLog.Error("failed to rescrape activation", zap.Error(err))
		return err
	}
	return nil
}

// HandleRescrapeSweep is the periodic fan out over live contests.
func (s *Service) HandleRescrapeSweep(ctx context.Context, _ *asynq.Task) error {
	start := s.now()
	queued, err := s.EnqueueLiveRescrapes(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue live rescrapes", zap.Error(err))
		return err
	}
	zap.L().Info("[Scheduler] Finished enqueue live rescrapes",
		zap.Int("queued", queued),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// HandleDrainTask is the asynq handler for partnersync:drain.
func (s *Service) HandleDrainTask(ctx context.Context, _ *asynq.Task) error {
	res, err := s.drainer.Drain(ctx, s.drainBatch)
	if err != nil {
		return err
	}
	if res.Claimed > 0 {
		zap.L().Info("sync queue drained",
			zap.Int("claimed", res.Claimed),
			zap.Int("delivered", res.Delivered),
			zap.Int("retrying", res.Retrying),
			zap.Int("failed", res.Failed),
		)
	}
	return nil
}

// HandleReconcileTask is the asynq handler for settlement:reconcile.
func (s *Service) HandleReconcileTask(ctx context.Context, _ *asynq.Task) error {
	done, err := s.reconciler.Reconcile(ctx, s.reconcileBatch)
	if err != nil {
		return err
	}
	if done > 0 {
		zap.L().Warn("reconciled stuck finalizations", zap.Int("completed", done))
	}
	return nil
}

func (s *Service) Job(ctx context.Context, id string) (*Job, error) {
	if err := errutil.RequireID("id", id); err != nil {
		return nil, err
	}
	job, err := s.jobs.FindOne(ctx, &Job{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to load job", err)
	}
	if job == nil {
		return nil, errutil.NotFound("job not found", nil)
	}
	return job, nil
}
