package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// NextSequence allocates the next per-account sequence number inside the
// caller's transaction. The counter row is locked so two concurrent emitters
// for the same account serialize instead of racing to the same number.
func (r *Repository) NextSequence(tx *gorm.DB, accountID uuid.UUID) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	q := tx
	// sqlite is single-writer and rejects FOR UPDATE syntax.
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var counter models.OutboxSequence
	err := q.Where("account_id = ?", accountID).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = models.OutboxSequence{AccountID: accountID, LastSequence: 0}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoNothing: true,
		}).Create(&counter).Error
		if err != nil {
			return 0, err
		}
		// A concurrent emitter may have won the insert; re-read under the
		// lock to continue from its counter.
		if err := q.Where("account_id = ?", accountID).First(&counter).Error; err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, err
	}

	counter.LastSequence++
	if err := tx.Model(&models.OutboxSequence{}).
		Where("account_id = ?", accountID).
		Update("last_sequence", counter.LastSequence).Error; err != nil {
		return 0, err
	}
	return counter.LastSequence, nil
}

func (r *Repository) Insert(tx *gorm.DB, event *models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(event).Error
}

// ListSince returns the account's feed strictly after the given sequence, in
// order. Consumers resume from their last-seen sequence.
func (r *Repository) ListSince(accountID uuid.UUID, afterSequence int64, limit int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.Where("account_id = ? AND sequence > ?", accountID, afterSequence).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FetchUnpublished returns events awaiting publication, skipping rows that
// exhausted their publish attempts.
func (r *Repository) FetchUnpublished(limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.Where("published_at IS NULL AND attempt_count < ?", maxAttempts).
		Order("account_id ASC").
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(id uuid.UUID) error {
	return r.db.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": time.Now(),
		}).Error
}

func (r *Repository) MarkFailed(id uuid.UUID, err error) error {
	return r.db.Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    err.Error(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}
