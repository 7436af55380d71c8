package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
)

// Repository persists durable job runs and the recurring queue schedules
// that seed them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Enqueue(ctx context.Context, name string, payload any, runAt time.Time) error
	DueRuns(ctx context.Context, now time.Time, limit int) ([]models.JobRun, error)
	MarkCompleted(ctx context.Context, runID uuid.UUID, completedAt time.Time) error
	Reschedule(ctx context.Context, runID uuid.UUID, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, runID uuid.UUID, lastError string) error

	DueSchedules(ctx context.Context, now time.Time) ([]models.JobSchedule, error)
	ScheduleRan(ctx context.Context, scheduleID uuid.UUID, ranAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Enqueue records a pending run. Callers pass the transaction that produced
// the work so the run row commits atomically with it.
func (r *repository) Enqueue(ctx context.Context, name string, payload any, runAt time.Time) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "marshal job payload")
	}
	run := models.JobRun{
		ID:            uuid.New(),
		Name:          name,
		Payload:       raw,
		State:         models.JobRunPending,
		NextAttemptAt: runAt,
	}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "enqueue job run")
	}
	return nil
}

// DueRuns returns pending runs whose next attempt time has passed, oldest
// first.
func (r *repository) DueRuns(ctx context.Context, now time.Time, limit int) ([]models.JobRun, error) {
	var runs []models.JobRun
	err := r.db.WithContext(ctx).
		Where("state = ? AND next_attempt_at <= ?", models.JobRunPending, now).
		Order("next_attempt_at ASC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "list due job runs")
	}
	return runs, nil
}

func (r *repository) MarkCompleted(ctx context.Context, runID uuid.UUID, completedAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.JobRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"state":        models.JobRunCompleted,
			"completed_at": completedAt,
		}).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "complete job run")
	}
	return nil
}

// Reschedule pushes a retryable run into the future and bumps its attempt
// count.
func (r *repository) Reschedule(ctx context.Context, runID uuid.UUID, nextAttemptAt time.Time, lastError string) error {
	err := r.db.WithContext(ctx).
		Model(&models.JobRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"next_attempt_at": nextAttemptAt,
			"last_error":      lastError,
		}).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "reschedule job run")
	}
	return nil
}

func (r *repository) MarkFailed(ctx context.Context, runID uuid.UUID, lastError string) error {
	err := r.db.WithContext(ctx).
		Model(&models.JobRun{}).
		Where("id = ?", runID).
		Updates(map[string]any{
			"state":      models.JobRunFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
		}).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "fail job run")
	}
	return nil
}

// DueSchedules returns recurring schedules whose next run time has passed.
func (r *repository) DueSchedules(ctx context.Context, now time.Time) ([]models.JobSchedule, error) {
	var schedules []models.JobSchedule
	err := r.db.WithContext(ctx).
		Where("next_run_at IS NOT NULL AND next_run_at <= ?", now).
		Order("next_run_at ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, err, "list due schedules")
	}
	return schedules, nil
}

// ScheduleRan records a trigger and advances next_run_at by the schedule's
// interval. Schedules without an interval fire once and go dormant.
func (r *repository) ScheduleRan(ctx context.Context, scheduleID uuid.UUID, ranAt time.Time) error {
	var schedule models.JobSchedule
	if err := r.db.WithContext(ctx).First(&schedule, "id = ?", scheduleID).Error; err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "load schedule")
	}
	updates := map[string]any{"last_run_at": ranAt}
	if schedule.IntervalSecs != nil && *schedule.IntervalSecs > 0 {
		updates["next_run_at"] = ranAt.Add(time.Duration(*schedule.IntervalSecs) * time.Second)
	} else {
		updates["next_run_at"] = nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.JobSchedule{}).
		Where("id = ?", scheduleID).
		Updates(updates).Error
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, err, "advance schedule")
	}
	return nil
}
