package models

import (
	"time"

	"github.com/GaloyMoney/bria-sub001/pkg/enums"
	"github.com/google/uuid"
)

// Payout is a single requested spend. State transitions are monotonic:
// queued → committed → settled, or queued → cancelled.
type Payout struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID `gorm:"column:account_id;type:uuid;not null"`
	WalletID  uuid.UUID `gorm:"column:wallet_id;type:uuid;not null"`
	QueueID   uuid.UUID `gorm:"column:queue_id;type:uuid;not null"`

	// BatchID is set exactly once, when the payout is committed to a batch.
	BatchID *uuid.UUID `gorm:"column:batch_id;type:uuid"`

	Destination   string `gorm:"column:destination;not null"`
	SatoshiAmount int64  `gorm:"column:satoshi_amount;not null"`

	// ExternalID is the caller-supplied idempotency key, unique per account
	// when present (ux_payouts_account_external_id).
	ExternalID *string `gorm:"column:external_id"`

	State enums.PayoutState `gorm:"column:state;type:payout_state_enum;not null;default:'queued'"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	CommittedAt *time.Time `gorm:"column:committed_at"`
	SettledAt   *time.Time `gorm:"column:settled_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
}
