package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/GaloyMoney/bria-sub001/pkg/config"
	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
	"github.com/GaloyMoney/bria-sub001/pkg/logger"
	"github.com/GaloyMoney/bria-sub001/pkg/metrics"
)

const dueRunsPerCycle = 50

// ServiceParams configure the pipeline scheduler.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Repo     Repository
	Lock     Lock
	Metrics  *metrics.JobMetrics
	Config   config.JobsConfig
}

// Service polls due schedules and job runs and executes them through the
// registry. One cycle runs under the distributed lock so only one worker
// replica drains the queue at a time.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	repo     Repository
	lock     Lock
	metrics  *metrics.JobMetrics
	cfg      config.JobsConfig
}

// NewService builds the scheduler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("registry required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("job repository required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	cfg := params.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 20 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	return &Service{
		logg:     params.Logger,
		registry: params.Registry,
		repo:     params.Repo,
		lock:     params.Lock,
		metrics:  params.Metrics,
		cfg:      cfg,
	}, nil
}

// Run polls until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduler cycle failed", err)
	}
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "job scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduler cycle failed", err)
			}
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "another worker holds the scheduler lock; skipping cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release scheduler lock", relErr)
		}
	}()

	now := time.Now().UTC()
	if err := s.seedSchedules(ctx, now); err != nil {
		s.logg.Error(ctx, "seeding schedules failed", err)
	}
	return s.executeDue(ctx, now)
}

// seedSchedules converts due queue schedules into batch-group runs and
// advances their next trigger time.
func (s *Service) seedSchedules(ctx context.Context, now time.Time) error {
	schedules, err := s.repo.DueSchedules(ctx, now)
	if err != nil {
		return err
	}
	for _, schedule := range schedules {
		if schedule.QueueID == nil {
			continue
		}
		payload := ProcessBatchGroupPayload{QueueID: *schedule.QueueID}
		if err := s.repo.Enqueue(ctx, JobProcessBatchGroup, payload, now); err != nil {
			return err
		}
		if err := s.repo.ScheduleRan(ctx, schedule.ID, now); err != nil {
			return err
		}
		scheduleCtx := s.logg.WithField(ctx, "queue_id", schedule.QueueID.String())
		s.logg.Info(scheduleCtx, "queue schedule triggered")
	}
	return nil
}

func (s *Service) executeDue(ctx context.Context, now time.Time) error {
	runs, err := s.repo.DueRuns(ctx, now, dueRunsPerCycle)
	if err != nil {
		return err
	}
	for _, run := range runs {
		s.executeRun(ctx, run)
	}
	return nil
}

func (s *Service) executeRun(ctx context.Context, run models.JobRun) {
	runCtx := s.logg.WithFields(ctx, map[string]any{
		"job":     run.Name,
		"run_id":  run.ID.String(),
		"attempt": run.Attempts + 1,
	})

	job, err := s.registry.Lookup(run.Name)
	if err != nil {
		s.logg.Error(runCtx, "unknown job name", err)
		s.failRun(runCtx, run, err)
		return
	}

	s.logg.Info(runCtx, "job start")
	start := time.Now()
	err = job.Execute(runCtx, run.Payload)
	duration := time.Since(start)
	if s.metrics != nil {
		s.metrics.ObserveDuration(run.Name, duration)
	}
	runCtx = s.logg.WithField(runCtx, "duration_ms", duration.Milliseconds())

	if err == nil {
		if markErr := s.repo.MarkCompleted(runCtx, run.ID, time.Now().UTC()); markErr != nil {
			s.logg.Error(runCtx, "failed to complete job run", markErr)
			return
		}
		if s.metrics != nil {
			s.metrics.IncSuccess(run.Name)
		}
		s.logg.Info(runCtx, "job completed")
		return
	}

	if apperrors.IsRetryable(err) && run.Attempts+1 < s.cfg.MaxAttempts {
		next := time.Now().UTC().Add(s.cfg.RetryBackoff)
		if reschedErr := s.repo.Reschedule(runCtx, run.ID, next, err.Error()); reschedErr != nil {
			s.logg.Error(runCtx, "failed to reschedule job run", reschedErr)
			return
		}
		if s.metrics != nil {
			s.metrics.IncRetry(run.Name)
		}
		s.logg.Warn(s.logg.WithField(runCtx, "retry_at", next.Format(time.RFC3339)), "job rescheduled: "+err.Error())
		return
	}

	s.logg.Error(runCtx, "job failed permanently", err)
	s.failRun(runCtx, run, err)
}

func (s *Service) failRun(ctx context.Context, run models.JobRun, cause error) {
	if err := s.repo.MarkFailed(ctx, run.ID, cause.Error()); err != nil {
		s.logg.Error(ctx, "failed to mark job run failed", err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncFailure(run.Name)
	}
}
