package models

import (
	"time"

	"github.com/google/uuid"
)

// Batch groups committed payouts into one Bitcoin transaction. The row is
// immutable after creation except for the signature/broadcast metadata the
// later pipeline steps attach.
type Batch struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID    uuid.UUID `gorm:"column:account_id;type:uuid;not null"`
	BatchGroupID uuid.UUID `gorm:"column:batch_group_id;type:uuid;not null"`

	// BitcoinTxID is the txid of the unsigned transaction; fixed at creation.
	BitcoinTxID  string `gorm:"column:bitcoin_tx_id;not null"`
	UnsignedPsbt []byte `gorm:"column:unsigned_psbt;type:bytea;not null"`

	TotalFeeSats int64 `gorm:"column:total_fee_sats;not null"`
	TotalOutSats int64 `gorm:"column:total_out_sats;not null"`

	SignedTx    []byte     `gorm:"column:signed_tx;type:bytea"`
	BroadcastAt *time.Time `gorm:"column:broadcast_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`

	Summaries []BatchWalletSummary `gorm:"foreignKey:BatchID"`
}

// BatchWalletSummary is the per-wallet accounting slice of a batch. The
// summary set is fixed when the batch is created.
type BatchWalletSummary struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BatchID  uuid.UUID `gorm:"column:batch_id;type:uuid;not null;uniqueIndex:ux_batch_wallet_summaries"`
	WalletID uuid.UUID `gorm:"column:wallet_id;type:uuid;not null;uniqueIndex:ux_batch_wallet_summaries"`

	TotalOutSats int64 `gorm:"column:total_out_sats;not null"`
	FeeSats      int64 `gorm:"column:fee_sats;not null"`
	PayoutCount  int   `gorm:"column:payout_count;not null"`

	// PendingLedgerTxID is derived deterministically from (batch, wallet) so
	// a retried accounting step posts with the same idempotency key.
	PendingLedgerTxID uuid.UUID `gorm:"column:pending_ledger_tx_id;type:uuid;not null"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
