// Package wallet resolves managed wallets and their ledger bindings.
package wallet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
	apperrors "github.com/GaloyMoney/bria-sub001/pkg/errors"
)

// Repository looks up wallets by id. Pipeline steps use it to resolve a
// wallet's journal and ledger accounts with a single query.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error)
	FindByIDs(ctx context.Context, walletIDs []uuid.UUID) (map[uuid.UUID]models.Wallet, error)
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

func (r *repository) FindByID(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).First(&wallet, "id = ?", walletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.New(apperrors.CodeNotFound, "wallet not found")
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) FindByIDs(ctx context.Context, walletIDs []uuid.UUID) (map[uuid.UUID]models.Wallet, error) {
	if len(walletIDs) == 0 {
		return map[uuid.UUID]models.Wallet{}, nil
	}
	var wallets []models.Wallet
	if err := r.db.WithContext(ctx).
		Where("id IN ?", walletIDs).
		Find(&wallets).Error; err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Wallet, len(wallets))
	for _, w := range wallets {
		byID[w.ID] = w
	}
	return byID, nil
}
