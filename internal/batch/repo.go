package batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
)

// Repository manages persistence for batches and their wallet summaries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, batch *models.Batch, summaries []models.BatchWalletSummary) error
	FindByID(ctx context.Context, batchID uuid.UUID) (*models.Batch, error)
	SummaryFor(ctx context.Context, batchID, walletID uuid.UUID) (*models.BatchWalletSummary, error)
	AttachSignedTx(ctx context.Context, batchID uuid.UUID, signedTx []byte) error
	MarkBroadcast(ctx context.Context, batchID uuid.UUID, broadcastAt time.Time) error
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

func (r *repository) Create(ctx context.Context, batch *models.Batch, summaries []models.BatchWalletSummary) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return err
	}
	for i := range summaries {
		if summaries[i].ID == uuid.Nil {
			summaries[i].ID = uuid.New()
		}
		summaries[i].BatchID = batch.ID
	}
	return r.db.WithContext(ctx).Create(&summaries).Error
}

func (r *repository) FindByID(ctx context.Context, batchID uuid.UUID) (*models.Batch, error) {
	var batch models.Batch
	err := r.db.WithContext(ctx).
		Preload("Summaries").
		First(&batch, "id = ?", batchID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "batch not found")
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// SummaryFor resolves the per-wallet accounting slice. A batch that names a
// wallet with no summary row is corrupt state, not a retriable condition.
func (r *repository) SummaryFor(ctx context.Context, batchID, walletID uuid.UUID) (*models.BatchWalletSummary, error) {
	var summary models.BatchWalletSummary
	err := r.db.WithContext(ctx).
		First(&summary, "batch_id = ? AND wallet_id = ?", batchID, walletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeInvariantViolation, "missing wallet summary for batch")
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (r *repository) AttachSignedTx(ctx context.Context, batchID uuid.UUID, signedTx []byte) error {
	return r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ?", batchID).
		Update("signed_tx", signedTx).Error
}

func (r *repository) MarkBroadcast(ctx context.Context, batchID uuid.UUID, broadcastAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Batch{}).
		Where("id = ? AND broadcast_at IS NULL", batchID).
		Update("broadcast_at", broadcastAt).Error
}
