package models

import (
	"time"

	"github.com/google/uuid"
)

// Wallet is a managed Bitcoin wallet. The ledger account ids are
// denormalized here so pipeline steps resolve a wallet's journal and
// accounts with a single lookup.
type Wallet struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID `gorm:"column:account_id;type:uuid;not null"`
	Name      string    `gorm:"column:name;not null"`
	JournalID uuid.UUID `gorm:"column:journal_id;type:uuid;not null"`

	OnchainSettledAccountID uuid.UUID `gorm:"column:onchain_settled_account_id;type:uuid;not null"`
	OnchainPendingAccountID uuid.UUID `gorm:"column:onchain_pending_account_id;type:uuid;not null"`
	FeeAccountID            uuid.UUID `gorm:"column:fee_account_id;type:uuid;not null"`
	PayeeAccountID          uuid.UUID `gorm:"column:payee_account_id;type:uuid;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
