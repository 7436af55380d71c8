package models

import (
	"encoding/json"
	"time"

	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	"github.com/google/uuid"
)

// LedgerJournal scopes a wallet's set of ledger accounts.
type LedgerJournal struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID `gorm:"column:account_id;type:uuid;not null"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// LedgerAccount is one bookkeeping account inside a journal.
type LedgerAccount struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JournalID uuid.UUID               `gorm:"column:journal_id;type:uuid;not null"`
	Kind      enums.LedgerAccountKind `gorm:"column:kind;type:ledger_account_kind_enum;not null"`
	Name      string                  `gorm:"column:name;not null"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
}

// LedgerTransaction is the idempotency unit of the ledger. ExternalID is
// unique (ux_ledger_transactions_external_id); replaying a posting with the
// same external id violates that index instead of double-posting.
type LedgerTransaction struct {
	ID            uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	JournalID     uuid.UUID                   `gorm:"column:journal_id;type:uuid;not null"`
	Type          enums.LedgerTransactionType `gorm:"column:type;type:ledger_tx_type_enum;not null"`
	CorrelationID *uuid.UUID                  `gorm:"column:correlation_id;type:uuid"`
	ExternalID    string                      `gorm:"column:external_id;not null;uniqueIndex:ux_ledger_transactions_external_id"`
	Metadata      json.RawMessage             `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time                   `gorm:"column:created_at;autoCreateTime"`

	Entries []LedgerEntry `gorm:"foreignKey:TransactionID"`
}

// LedgerEntry is one side of a double-entry posting. Entries are appended
// with their transaction and never mutated.
type LedgerEntry struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID uuid.UUID            `gorm:"column:transaction_id;type:uuid;not null"`
	JournalID     uuid.UUID            `gorm:"column:journal_id;type:uuid;not null"`
	AccountID     uuid.UUID            `gorm:"column:account_id;type:uuid;not null"`
	Direction     enums.EntryDirection `gorm:"column:direction;type:entry_direction_enum;not null"`
	AmountSats    int64                `gorm:"column:amount_sats;not null"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
}
