package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/GaloyMoney/bria-sub001/pkg/db/models"
)

// Repository manages persistence for ledger transactions and entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateTransaction(ctx context.Context, txn *models.LedgerTransaction, entries []models.LedgerEntry) error
	EntriesForAccount(ctx context.Context, journalID, accountID uuid.UUID) ([]accountEntry, error)
}

// accountEntry joins an entry with its transaction type so balances can be
// decomposed into settled and pending components in one query.
type accountEntry struct {
	Direction  string `gorm:"column:direction"`
	AmountSats int64  `gorm:"column:amount_sats"`
	TxType     string `gorm:"column:tx_type"`
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

func (r *repository) CreateTransaction(ctx context.Context, txn *models.LedgerTransaction, entries []models.LedgerEntry) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		return err
	}
	for i := range entries {
		if entries[i].ID == uuid.Nil {
			entries[i].ID = uuid.New()
		}
		entries[i].TransactionID = txn.ID
		entries[i].JournalID = txn.JournalID
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) EntriesForAccount(ctx context.Context, journalID, accountID uuid.UUID) ([]accountEntry, error) {
	var rows []accountEntry
	err := r.db.WithContext(ctx).
		Table("ledger_entries").
		Select("ledger_entries.direction, ledger_entries.amount_sats, ledger_transactions.type AS tx_type").
		Joins("JOIN ledger_transactions ON ledger_transactions.id = ledger_entries.transaction_id").
		Where("ledger_entries.journal_id = ? AND ledger_entries.account_id = ?", journalID, accountID).
		Scan(&rows).Error
	return rows, err
}
