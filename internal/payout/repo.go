package payout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
)

// Repository manages persistence for payouts, queues, and the schedule rows
// the inclusion estimator reads.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payout *models.Payout) error
	FindByID(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error)
	ListUnbatched(ctx context.Context, queueID uuid.UUID) ([]models.Payout, error)
	MarkCommitted(ctx context.Context, payoutIDs []uuid.UUID, batchID uuid.UUID) error
	MarkSettled(ctx context.Context, batchID uuid.UUID) ([]models.Payout, error)
	MarkCancelled(ctx context.Context, payoutID uuid.UUID) error
	QueueByID(ctx context.Context, queueID uuid.UUID) (*models.PayoutQueue, error)
	ListByIDs(ctx context.Context, payoutIDs []uuid.UUID) ([]models.Payout, error)
	QueuesByIDs(ctx context.Context, queueIDs []uuid.UUID) (map[uuid.UUID]models.PayoutQueue, error)
	SchedulesForQueues(ctx context.Context, queueIDs []uuid.UUID) (map[uuid.UUID]models.JobSchedule, error)
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

func (r *repository) Create(ctx context.Context, payout *models.Payout) error {
	if payout.ID == uuid.Nil {
		payout.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(payout).Error
}

func (r *repository) FindByID(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).First(&payout, "id = ?", payoutID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "payout not found")
	}
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

// ListUnbatched returns the queue's claimable payouts in submission order.
// Callers running batch formation must invoke this through WithTx on a
// serializable transaction; the read is what the conflict detection guards.
func (r *repository) ListUnbatched(ctx context.Context, queueID uuid.UUID) ([]models.Payout, error) {
	var payouts []models.Payout
	err := r.db.WithContext(ctx).
		Where("queue_id = ? AND state = ? AND batch_id IS NULL", queueID, enums.PayoutStateQueued).
		Order("created_at ASC").
		Find(&payouts).Error
	return payouts, err
}

func (r *repository) MarkCommitted(ctx context.Context, payoutIDs []uuid.UUID, batchID uuid.UUID) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id IN ? AND state = ?", payoutIDs, enums.PayoutStateQueued).
		Updates(map[string]any{
			"batch_id":     batchID,
			"state":        enums.PayoutStateCommitted,
			"committed_at": now,
		}).Error
}

// MarkSettled returns only the payouts transitioned by this call, so a
// rerun over an already-settled batch returns nothing.
func (r *repository) MarkSettled(ctx context.Context, batchID uuid.UUID) ([]models.Payout, error) {
	var payouts []models.Payout
	if err := r.db.WithContext(ctx).
		Where("batch_id = ? AND state = ?", batchID, enums.PayoutStateCommitted).
		Order("created_at ASC").
		Find(&payouts).Error; err != nil {
		return nil, err
	}
	if len(payouts) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(payouts))
	for _, payout := range payouts {
		ids = append(ids, payout.ID)
	}
	now := time.Now()
	if err := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id IN ? AND state = ?", ids, enums.PayoutStateCommitted).
		Updates(map[string]any{
			"state":      enums.PayoutStateSettled,
			"settled_at": now,
		}).Error; err != nil {
		return nil, err
	}
	for i := range payouts {
		payouts[i].State = enums.PayoutStateSettled
		payouts[i].SettledAt = &now
	}
	return payouts, nil
}

func (r *repository) MarkCancelled(ctx context.Context, payoutID uuid.UUID) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.Payout{}).
		Where("id = ? AND state = ?", payoutID, enums.PayoutStateQueued).
		Updates(map[string]any{
			"state":        enums.PayoutStateCancelled,
			"cancelled_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.CodeStateConflict, "payout is not cancellable")
	}
	return nil
}

func (r *repository) QueueByID(ctx context.Context, queueID uuid.UUID) (*models.PayoutQueue, error) {
	var queue models.PayoutQueue
	err := r.db.WithContext(ctx).First(&queue, "id = ?", queueID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "payout queue not found")
	}
	if err != nil {
		return nil, err
	}
	return &queue, nil
}

func (r *repository) ListByIDs(ctx context.Context, payoutIDs []uuid.UUID) ([]models.Payout, error) {
	if len(payoutIDs) == 0 {
		return nil, nil
	}
	var payouts []models.Payout
	err := r.db.WithContext(ctx).
		Where("id IN ?", payoutIDs).
		Find(&payouts).Error
	return payouts, err
}

func (r *repository) QueuesByIDs(ctx context.Context, queueIDs []uuid.UUID) (map[uuid.UUID]models.PayoutQueue, error) {
	result := map[uuid.UUID]models.PayoutQueue{}
	if len(queueIDs) == 0 {
		return result, nil
	}
	var queues []models.PayoutQueue
	if err := r.db.WithContext(ctx).
		Where("id IN ?", queueIDs).
		Find(&queues).Error; err != nil {
		return nil, err
	}
	for _, queue := range queues {
		result[queue.ID] = queue
	}
	return result, nil
}

func (r *repository) SchedulesForQueues(ctx context.Context, queueIDs []uuid.UUID) (map[uuid.UUID]models.JobSchedule, error) {
	result := map[uuid.UUID]models.JobSchedule{}
	if len(queueIDs) == 0 {
		return result, nil
	}
	var schedules []models.JobSchedule
	if err := r.db.WithContext(ctx).
		Where("queue_id IN ?", queueIDs).
		Find(&schedules).Error; err != nil {
		return nil, err
	}
	for _, schedule := range schedules {
		if schedule.QueueID != nil {
			result[*schedule.QueueID] = schedule
		}
	}
	return result, nil
}
